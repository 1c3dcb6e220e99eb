// Package scheduler реализует внутрипроцессный планировщик именованных хуков:
// одноразовые и периодические срабатывания, проверка «уже запланировано»
// и снятие с планирования. Хуки регистрируются при старте; срабатывание
// незарегистрированного хука — обрабатываемая ситуация, не паника.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
)

// HookFunc обработчик именованного хука.
type HookFunc func(ctx context.Context, args []any) error

// Scheduler планировщик именованных хуков на таймерах процесса.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	hooks   map[string]HookFunc
	pending map[string]*time.Timer
	tickers map[string]*time.Ticker
	stopped bool
}

// New создает планировщик.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:     log,
		hooks:   make(map[string]HookFunc),
		pending: make(map[string]*time.Timer),
		tickers: make(map[string]*time.Ticker),
	}
}

// Register связывает hookID с обработчиком. Повторная регистрация заменяет обработчик.
func (s *Scheduler) Register(hookID string, fn HookFunc) {
	s.mu.Lock()
	s.hooks[hookID] = fn
	s.mu.Unlock()
}

// ScheduleOnce планирует одно срабатывание хука через delay.
// Повторный вызов для того же hookID переносит срабатывание.
func (s *Scheduler) ScheduleOnce(ctx context.Context, delay time.Duration, hookID string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.pending[hookID]; ok {
		prev.Stop()
	}
	s.pending[hookID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, hookID)
		s.mu.Unlock()
		s.fire(ctx, hookID, args)
	})
}

// ScheduleRecurring планирует периодическое срабатывание хука.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, interval time.Duration, hookID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.tickers[hookID]; ok {
		prev.Stop()
	}
	ticker := time.NewTicker(interval)
	s.tickers[hookID] = ticker
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				s.fire(ctx, hookID, nil)
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// IsScheduled сообщает, ожидает ли hookID одноразового срабатывания.
func (s *Scheduler) IsScheduled(hookID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[hookID]
	return ok
}

// Unschedule снимает hookID с планирования.
func (s *Scheduler) Unschedule(hookID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[hookID]; ok {
		timer.Stop()
		delete(s.pending, hookID)
	}
	if ticker, ok := s.tickers[hookID]; ok {
		ticker.Stop()
		delete(s.tickers, hookID)
	}
}

// Stop останавливает все таймеры. Новые планирования после Stop игнорируются.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	for id, ticker := range s.tickers {
		ticker.Stop()
		delete(s.tickers, id)
	}
}

func (s *Scheduler) fire(ctx context.Context, hookID string, args []any) {
	s.mu.Lock()
	fn, ok := s.hooks[hookID]
	s.mu.Unlock()
	if !ok {
		s.log.Warn("no handler registered for hook", slog.String("hook", hookID))
		return
	}
	if err := fn(ctx, args); err != nil {
		s.log.Error("hook handler failed", slog.String("hook", hookID), sl.Err(err))
	}
}
