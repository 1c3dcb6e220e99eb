package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestScheduler_ScheduleOnce(t *testing.T) {
	s := New(newNoopLogger())
	defer s.Stop()

	var fired atomic.Int32
	s.Register("test-hook", func(_ context.Context, _ []any) error {
		fired.Add(1)
		return nil
	})

	s.ScheduleOnce(context.Background(), 10*time.Millisecond, "test-hook", nil)
	assert.True(t, s.IsScheduled("test-hook"))

	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.IsScheduled("test-hook"), "fired hook is no longer pending")
}

func TestScheduler_ScheduleOnceReplacesPending(t *testing.T) {
	s := New(newNoopLogger())
	defer s.Stop()

	var fired atomic.Int32
	s.Register("test-hook", func(_ context.Context, _ []any) error {
		fired.Add(1)
		return nil
	})

	s.ScheduleOnce(context.Background(), 20*time.Millisecond, "test-hook", nil)
	s.ScheduleOnce(context.Background(), 20*time.Millisecond, "test-hook", nil)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load(), "rescheduling replaces the pending timer")
}

func TestScheduler_Unschedule(t *testing.T) {
	s := New(newNoopLogger())
	defer s.Stop()

	var fired atomic.Int32
	s.Register("test-hook", func(_ context.Context, _ []any) error {
		fired.Add(1)
		return nil
	})

	s.ScheduleOnce(context.Background(), 20*time.Millisecond, "test-hook", nil)
	s.Unschedule("test-hook")
	assert.False(t, s.IsScheduled("test-hook"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestScheduler_UnregisteredHookIsNoop(t *testing.T) {
	s := New(newNoopLogger())
	defer s.Stop()

	s.ScheduleOnce(context.Background(), 5*time.Millisecond, "ghost-hook", nil)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.IsScheduled("ghost-hook"))
}

func TestScheduler_ScheduleRecurring(t *testing.T) {
	s := New(newNoopLogger())
	defer s.Stop()

	var fired atomic.Int32
	s.Register("tick", func(_ context.Context, _ []any) error {
		fired.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ScheduleRecurring(ctx, 15*time.Millisecond, "tick")

	assert.Eventually(t, func() bool {
		return fired.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}
