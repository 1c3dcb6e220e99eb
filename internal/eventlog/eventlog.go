// Package eventlog реализует ограниченный журнал событий ядра уведомлений:
// не более 500 записей, старые вытесняются первыми. Журнал хранится
// в хранилище ключ-значение, счетчики по типам выводятся подсчетом записей,
// отдельно не хранятся.
package eventlog

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/membership-notifier/internal/kvstore"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
)

// Capacity максимальное число записей журнала.
const Capacity = 500

const storageKey = "notifier:eventlog"

// EntryType тип записи журнала.
type EntryType string

// Типы записей журнала.
const (
	TypeSent   EntryType = "SENT"
	TypeFailed EntryType = "FAILED"
	TypeQueue  EntryType = "QUEUE"
	TypeCron   EntryType = "CRON"
	TypeVerify EntryType = "VERIFY"
	TypeUnsub  EntryType = "UNSUB"
	TypeSkip   EntryType = "SKIP"
)

// Entry запись журнала событий.
type Entry struct {
	Timestamp int64            `json:"timestamp"`
	Type      EntryType        `json:"type"`
	Message   string           `json:"message"`
	Context   map[string]Value `json:"context,omitempty"`
}

// Log журнал событий поверх хранилища ключ-значение.
type Log struct {
	store kvstore.Store
	clk   clock.Clock
	log   *slog.Logger
}

// New создает журнал событий.
func New(store kvstore.Store, clk clock.Clock, log *slog.Logger) *Log {
	return &Log{store: store, clk: clk, log: log}
}

// Add добавляет запись в журнал, вытесняя старые записи сверх емкости.
// Ошибки хранилища не возвращаются: журналирование не должно ломать вызывающего.
func (l *Log) Add(ctx context.Context, entryType EntryType, message string, context map[string]Value) {
	const op = "eventlog.Add"

	var entries []Entry
	if _, err := l.store.Get(ctx, storageKey, &entries); err != nil {
		l.log.Error("failed to load event log", slog.String("op", op), sl.Err(err))
		return
	}

	entries = append(entries, Entry{
		Timestamp: l.clk.Now(),
		Type:      entryType,
		Message:   message,
		Context:   context,
	})
	if len(entries) > Capacity {
		entries = entries[len(entries)-Capacity:]
	}

	if err := l.store.Set(ctx, storageKey, entries); err != nil {
		l.log.Error("failed to persist event log", slog.String("op", op), sl.Err(err))
	}
}

// Entries возвращает записи журнала, новые первыми.
func (l *Log) Entries(ctx context.Context) []Entry {
	const op = "eventlog.Entries"

	var entries []Entry
	if _, err := l.store.Get(ctx, storageKey, &entries); err != nil {
		l.log.Error("failed to load event log", slog.String("op", op), sl.Err(err))
		return nil
	}

	result := make([]Entry, len(entries))
	for i, e := range entries {
		result[len(entries)-1-i] = e
	}
	return result
}

// Stats возвращает количество записей журнала по типам.
func (l *Log) Stats(ctx context.Context) map[EntryType]int {
	const op = "eventlog.Stats"

	var entries []Entry
	if _, err := l.store.Get(ctx, storageKey, &entries); err != nil {
		l.log.Error("failed to load event log", slog.String("op", op), sl.Err(err))
		return nil
	}

	stats := make(map[EntryType]int)
	for _, e := range entries {
		stats[e.Type]++
	}
	return stats
}
