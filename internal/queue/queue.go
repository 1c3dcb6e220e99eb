// Package queue реализует персистентную очередь доставки писем:
// строгий FIFO, скользящее часовое окно отправок и диспетчеризация заданий
// по таблице зарегистрированных обработчиков.
//
// Гарантия — at-least-once: падение процесса между диспетчеризацией и
// сохранением укороченного списка может привести к повторной доставке.
// Ровно-один-раз обеспечивает продюсер через sent-флаги пользователя.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/kvstore"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/metrics"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
)

const (
	jobsKey = "notifier:queue:jobs"
	rateKey = "notifier:queue:rate_window"
)

// DrainHook имя хука планировщика, запускающего разбор очереди.
const DrainHook = "delivery-queue-drain"

const retryDelay = time.Minute

// HandlerFunc обработчик задания очереди: идентификатор пользователя
// и позиционные аргументы задания.
type HandlerFunc func(ctx context.Context, userID int64, args []any) error

// DrainScheduler планирует разбор очереди. Повторное планирование
// защищено проверкой IsScheduled.
type DrainScheduler interface {
	ScheduleOnce(ctx context.Context, delay time.Duration, hookID string, args []any)
	IsScheduled(hookID string) bool
}

// Queue персистентная очередь доставки с ограничением скорости.
type Queue struct {
	store kvstore.Store
	sched DrainScheduler
	clk   clock.Clock
	elog  *eventlog.Log
	log   *slog.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

// New создает очередь доставки.
func New(store kvstore.Store, sched DrainScheduler, clk clock.Clock, elog *eventlog.Log, log *slog.Logger) *Queue {
	return &Queue{
		store:    store,
		sched:    sched,
		clk:      clk,
		elog:     elog,
		log:      log,
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandler связывает hookID с обработчиком задания.
func (q *Queue) RegisterHandler(hookID string, fn HandlerFunc) {
	q.mu.Lock()
	q.handlers[hookID] = fn
	q.mu.Unlock()
}

// Enqueue добавляет задание в конец очереди и гарантирует, что разбор
// запланирован. Задание с пустым именем хука не может быть выполнено
// никогда, поэтому отбрасывается сразу.
func (q *Queue) Enqueue(ctx context.Context, hookID string, userID int64, args []any) error {
	const op = "queue.Enqueue"

	if hookID == "" {
		q.log.Warn("dropping job with empty hook id", sl.UserID(userID))
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []models.QueueJob
	if _, err := q.store.Get(ctx, jobsKey, &jobs); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	jobs = append(jobs, models.QueueJob{
		ID:         uuid.New().String(),
		HookID:     hookID,
		UserID:     userID,
		Args:       args,
		EnqueuedAt: q.clk.Now(),
	})
	if err := q.store.Set(ctx, jobsKey, jobs); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.JobsEnqueued.Inc()
	q.elog.Add(ctx, eventlog.TypeQueue, "job enqueued", map[string]eventlog.Value{
		"hook": eventlog.String(hookID),
		"user": eventlog.Number(float64(userID)),
	})

	q.ensureDrainScheduled(ctx, retryDelay)
	return nil
}

// Process разбирает очередь: выполняет первые allowed заданий в порядке FIFO,
// сохраняет остаток нетронутым и учитывает отправки в часовом окне.
// Параллельные разборы сериализуются мьютексом, чтобы сузить окно
// потерянных обновлений на read-modify-write цикле.
func (q *Queue) Process(ctx context.Context) error {
	const op = "queue.Process"

	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []models.QueueJob
	if _, err := q.store.Get(ctx, jobsKey, &jobs); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(jobs) == 0 {
		if err := q.store.Delete(ctx, jobsKey); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}

	now := q.clk.Now()
	window := models.RateWindow{WindowStart: now}
	if found, err := q.store.Get(ctx, rateKey, &window); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	} else if !found || window.Stale(now) {
		window = models.RateWindow{WindowStart: now, Count: 0}
	}

	allowed := models.MaxPerHour - window.Count
	if allowed <= 0 {
		q.rescheduleAfterWindow(ctx, window, now)
		return nil
	}

	n := min(allowed, len(jobs))
	dispatched := 0
	for _, job := range jobs[:n] {
		if q.dispatch(ctx, job) {
			dispatched++
		}
	}

	remaining := jobs[n:]
	if len(remaining) == 0 {
		if err := q.store.Delete(ctx, jobsKey); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	} else {
		if err := q.store.Set(ctx, jobsKey, remaining); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	window.Count += dispatched
	if err := q.store.Set(ctx, rateKey, window); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	q.log.Info("queue drain completed",
		slog.Int("dispatched", dispatched),
		slog.Int("remaining", len(remaining)))

	if len(remaining) > 0 {
		if window.Count >= models.MaxPerHour {
			q.rescheduleAfterWindow(ctx, window, now)
		} else {
			q.ensureDrainScheduled(ctx, retryDelay)
		}
	}
	return nil
}

// Pending возвращает число заданий, ожидающих доставки.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	const op = "queue.Pending"
	var jobs []models.QueueJob
	if _, err := q.store.Get(ctx, jobsKey, &jobs); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return len(jobs), nil
}

// dispatch выполняет одно задание. Возвращает true, если задание дошло
// до зарегистрированного обработчика; ошибка отправки внутри обработчика
// не останавливает остальные задания пакета.
func (q *Queue) dispatch(ctx context.Context, job models.QueueJob) bool {
	handler, ok := q.handlers[job.HookID]
	if !ok {
		metrics.JobsDropped.Inc()
		q.log.Warn("dropping job with unregistered hook",
			slog.String("hook", job.HookID), slog.String("job_id", job.ID))
		q.elog.Add(ctx, eventlog.TypeSkip, "job dropped: unregistered hook", map[string]eventlog.Value{
			"hook": eventlog.String(job.HookID),
		})
		return false
	}

	if err := handler(ctx, job.UserID, job.Args); err != nil {
		q.log.Error("job handler failed",
			slog.String("hook", job.HookID), slog.String("job_id", job.ID), sl.Err(err))
	}
	metrics.JobsDispatched.Inc()
	return true
}

func (q *Queue) ensureDrainScheduled(ctx context.Context, delay time.Duration) {
	if q.sched.IsScheduled(DrainHook) {
		return
	}
	q.sched.ScheduleOnce(ctx, delay, DrainHook, nil)
}

func (q *Queue) rescheduleAfterWindow(ctx context.Context, window models.RateWindow, now int64) {
	delay := time.Duration(window.WindowStart+3600-now) * time.Second
	if delay <= 0 {
		delay = retryDelay
	}
	q.ensureDrainScheduled(ctx, delay)
}
