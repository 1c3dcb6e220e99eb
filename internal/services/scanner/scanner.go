// Package services реализует периодическое сканирование жизненного цикла
// подписок: поиск истекающих и истекших пользователей, постановка писем
// в очередь доставки, прямые напоминания и события для внешних систем.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/metrics"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// Идентификаторы хуков планировщика и очереди доставки.
const (
	// ScanHook имя повторяющегося хука сканирования.
	ScanHook = "lifecycle-scan"
	// HookPlanExpired письмо об истекшем плане, через очередь.
	HookPlanExpired = "plan-expired"
	// HookPlanReminder напоминание об истекающем плане, через очередь.
	HookPlanReminder = "plan-reminder"
)

const (
	secondsPerDay = int64(86400)

	reminderWindowDays = int64(3)
	comebackAfterDays  = int64(30)
)

// planAliases таблица нормализации значений плана из мета-полей.
var planAliases = map[string]string{
	"trial":   models.PlanTrial,
	"month":   models.PlanMonthly,
	"monthly": models.PlanMonthly,
	"year":    models.PlanYearly,
	"yearly":  models.PlanYearly,
}

// UserDirectory доступ к справочнику пользователей и их мета-полям.
type UserDirectory interface {
	FindExpiringWithin(ctx context.Context, now, window int64) ([]*models.User, error)
	FindWithExpiry(ctx context.Context) ([]*models.User, error)
	GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error)
	SetUserMeta(ctx context.Context, userID int64, key, value string) error
	HasUserMeta(ctx context.Context, userID int64, key string) (bool, error)
}

// Enqueuer ставит задание в очередь доставки.
type Enqueuer interface {
	Enqueue(ctx context.Context, hookID string, userID int64, args []any) error
}

// EventPublisher публикует события жизненного цикла.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// MailSender отправляет письмо напрямую, минуя очередь.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, htmlBody string, headers []string) bool
}

// UnsubscribeLinker возвращает действующую ссылку отписки пользователя.
type UnsubscribeLinker interface {
	UnsubscribeURLFor(ctx context.Context, userID int64) (string, error)
}

// LifecycleEvent сообщение о переходе жизненного цикла для внешних подписчиков.
type LifecycleEvent struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Plan      string `json:"plan"`
	Timestamp int64  `json:"timestamp"`
}

// ScanStats итоговые счетчики одного прохода сканирования.
type ScanStats struct {
	Candidates int
	Enqueued   int
	Sent       int
	Skipped    int
	Failed     int
}

// ScannerService решает, какие письма жизненного цикла пора отправить.
type ScannerService struct {
	repo      UserDirectory
	queue     Enqueuer
	publisher EventPublisher
	sender    MailSender
	links     UnsubscribeLinker
	tmpl      *templates.Store
	elog      *eventlog.Log
	clk       clock.Clock
	cfg       config.Notifier
	log       *slog.Logger
}

// NewScannerService создает новый экземпляр ScannerService.
func NewScannerService(repo UserDirectory, queue Enqueuer, publisher EventPublisher,
	sender MailSender, links UnsubscribeLinker, tmpl *templates.Store,
	elog *eventlog.Log, clk clock.Clock, cfg config.Notifier, log *slog.Logger) *ScannerService {
	return &ScannerService{
		repo:      repo,
		queue:     queue,
		publisher: publisher,
		sender:    sender,
		links:     links,
		tmpl:      tmpl,
		elog:      elog,
		clk:       clk,
		cfg:       cfg,
		log:       log,
	}
}

// RunScan выполняет один проход сканирования. Ошибка обработки отдельного
// пользователя логируется и не прерывает проход.
func (s *ScannerService) RunScan(ctx context.Context) ScanStats {
	const op = "scanner.RunScan"

	now := s.clk.Now()
	var stats ScanStats

	candidates, err := s.repo.FindExpiringWithin(ctx, now, secondsPerDay)
	if err != nil {
		s.log.Error("failed to find expiring users", sl.Err(fmt.Errorf("%s: %w", op, err)))
		stats.Failed++
	} else {
		stats.Candidates = len(candidates)
		for _, user := range candidates {
			s.scanCandidate(ctx, user, now, &stats)
		}
	}

	if err := s.subScan(ctx, now, &stats); err != nil {
		s.log.Error("full population sub-scan failed", sl.Err(fmt.Errorf("%s: %w", op, err)))
		stats.Failed++
	}

	metrics.ScansTotal.Inc()
	s.elog.Add(ctx, eventlog.TypeCron, "lifecycle scan finished", map[string]eventlog.Value{
		"candidates": eventlog.Number(float64(stats.Candidates)),
		"enqueued":   eventlog.Number(float64(stats.Enqueued)),
		"sent":       eventlog.Number(float64(stats.Sent)),
		"skipped":    eventlog.Number(float64(stats.Skipped)),
		"failed":     eventlog.Number(float64(stats.Failed)),
	})
	s.log.Info("lifecycle scan finished",
		slog.Int("candidates", stats.Candidates),
		slog.Int("enqueued", stats.Enqueued),
		slog.Int("sent", stats.Sent),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed))
	return stats
}

// scanCandidate классифицирует пользователя из окна сканирования:
// expired — письмо через очередь, событие и флаг за один проход;
// reminder — напоминание через очередь, защищенное тем же флагом,
// что и прямое напоминание.
func (s *ScannerService) scanCandidate(ctx context.Context, user *models.User, now int64, stats *ScanStats) {
	const op = "scanner.scanCandidate"

	plan, ok := s.resolvePlan(ctx, user)
	if !ok {
		stats.Skipped++
		return
	}

	diff := user.ExpiryTimestamp - now
	switch {
	case diff <= 0:
		enqueued, err := s.handleExpired(ctx, user, plan, now)
		if err != nil {
			s.log.Error("failed to process expired user",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
			return
		}
		if enqueued {
			stats.Enqueued++
		} else {
			stats.Skipped++
		}
	case diff <= secondsPerDay:
		flagged, err := s.repo.HasUserMeta(ctx, user.ID, models.MetaSentPlanReminder)
		if err != nil {
			s.log.Error("failed to check reminder flag",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
			return
		}
		if flagged {
			stats.Skipped++
			return
		}
		days := ceilDays(diff)
		if err := s.queue.Enqueue(ctx, HookPlanReminder, user.ID, []any{plan, days}); err != nil {
			s.log.Error("failed to enqueue plan reminder",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
			return
		}
		if err := s.setFlag(ctx, user.ID, models.MetaSentPlanReminder); err != nil {
			s.log.Error("failed to set reminder flag",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
			return
		}
		stats.Enqueued++
	}
}

// handleExpired отправляет письмо об истечении, публикует событие
// и ставит флаг. Флаг выбирается по статусу подписки, что гарантирует
// не более одного срабатывания на переход. Возвращает true, если
// задание было поставлено в очередь; уже помеченный пользователь
// учитывается вызывающей стороной как пропущенный.
func (s *ScannerService) handleExpired(ctx context.Context, user *models.User, plan string, now int64) (bool, error) {
	flagKey := models.MetaSentSubExpired
	routingKey := rabbitmq.KeySubscriptionExpired
	if user.IsTrial() {
		flagKey = models.MetaSentTrialExpired
		routingKey = rabbitmq.KeyTrialExpired
	}

	flagged, err := s.repo.HasUserMeta(ctx, user.ID, flagKey)
	if err != nil {
		return false, err
	}
	if flagged {
		return false, nil
	}

	if err := s.queue.Enqueue(ctx, HookPlanExpired, user.ID, []any{plan}); err != nil {
		return false, err
	}
	if err := s.publisher.Publish(routingKey, LifecycleEvent{
		UserID:    user.ID,
		Email:     user.Email,
		Plan:      plan,
		Timestamp: now,
	}); err != nil {
		s.log.Error("failed to publish lifecycle event",
			slog.Int64("user", user.ID), slog.String("routing_key", routingKey), sl.Err(err))
	}
	if err := s.setFlag(ctx, user.ID, flagKey); err != nil {
		return false, err
	}
	return true, nil
}

// subScan обходит всех пользователей с известным сроком истечения:
// прямое напоминание за 3 дня и письмо-возвращение спустя 30 дней
// после истечения, оба под своими флагами.
func (s *ScannerService) subScan(ctx context.Context, now int64, stats *ScanStats) error {
	users, err := s.repo.FindWithExpiry(ctx)
	if err != nil {
		return err
	}

	for _, user := range users {
		diff := user.ExpiryTimestamp - now
		switch {
		case diff > 0 && diff <= reminderWindowDays*secondsPerDay:
			s.directReminder(ctx, user, now, stats)
		case diff <= -comebackAfterDays*secondsPerDay:
			s.directComeback(ctx, user, stats)
		}
	}
	return nil
}

func (s *ScannerService) directReminder(ctx context.Context, user *models.User, now int64, stats *ScanStats) {
	const op = "scanner.directReminder"

	flagged, err := s.repo.HasUserMeta(ctx, user.ID, models.MetaSentPlanReminder)
	if err != nil || flagged {
		if err != nil {
			s.log.Error("failed to check reminder flag",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
		}
		return
	}

	plan, ok := s.resolvePlan(ctx, user)
	if !ok {
		stats.Skipped++
		return
	}

	days := ceilDays(user.ExpiryTimestamp - now)
	subject := fmt.Sprintf("Ваш план на %s скоро истечет", s.cfg.SiteName)
	sent := s.sendDirect(ctx, user, templates.SlugPlanReminder, subject, map[string]string{
		"plan":           plan,
		"days_remaining": strconv.FormatInt(days, 10),
	})
	if !sent {
		stats.Failed++
		return
	}
	if err := s.setFlag(ctx, user.ID, models.MetaSentPlanReminder); err != nil {
		s.log.Error("failed to set reminder flag",
			slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
		stats.Failed++
		return
	}
	stats.Sent++
}

func (s *ScannerService) directComeback(ctx context.Context, user *models.User, stats *ScanStats) {
	const op = "scanner.directComeback"

	// Письмо-возвращение маркетинговое: отписавшихся не трогаем.
	if user.MarketingOptOut {
		stats.Skipped++
		return
	}

	flagged, err := s.repo.HasUserMeta(ctx, user.ID, models.MetaSentComeback)
	if err != nil || flagged {
		if err != nil {
			s.log.Error("failed to check comeback flag",
				slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
			stats.Failed++
		}
		return
	}

	subject := fmt.Sprintf("Мы скучаем по вам на %s", s.cfg.SiteName)
	if !s.sendDirect(ctx, user, templates.SlugComeback, subject, nil) {
		stats.Failed++
		return
	}
	if err := s.setFlag(ctx, user.ID, models.MetaSentComeback); err != nil {
		s.log.Error("failed to set comeback flag",
			slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
		stats.Failed++
		return
	}
	stats.Sent++
}

// sendDirect рендерит шаблон и отправляет письмо в обход очереди доставки.
func (s *ScannerService) sendDirect(ctx context.Context, user *models.User, slug, subject string, vars map[string]string) bool {
	merged := map[string]string{"username": user.Username}
	for k, v := range vars {
		merged[k] = v
	}

	var headers []string
	if s.links != nil {
		if unsubURL, err := s.links.UnsubscribeURLFor(ctx, user.ID); err == nil {
			merged["unsubscribe_url"] = unsubURL
			headers = append(headers, fmt.Sprintf("List-Unsubscribe: <%s>", unsubURL))
		} else {
			s.log.Warn("failed to resolve unsubscribe url",
				slog.Int64("user", user.ID), sl.Err(err))
		}
	}

	html := s.tmpl.Render(slug, merged)
	if html == "" {
		return false
	}
	return s.sender.SendMail(ctx, user.Email, subject, html, headers)
}

// resolvePlan читает план из мета-полей с запасным ключом и нормализует
// его через таблицу алиасов. Неизвестный план — пропуск с записью в журнал.
func (s *ScannerService) resolvePlan(ctx context.Context, user *models.User) (string, bool) {
	const op = "scanner.resolvePlan"

	raw, found, err := s.repo.GetUserMeta(ctx, user.ID, models.MetaPlanID)
	if err == nil && !found {
		raw, found, err = s.repo.GetUserMeta(ctx, user.ID, models.MetaPlanIDLegacy)
	}
	if err != nil {
		s.log.Error("failed to read plan meta",
			slog.Int64("user", user.ID), sl.Err(fmt.Errorf("%s: %w", op, err)))
		return "", false
	}

	plan, ok := planAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !found || !ok {
		s.log.Warn("user has unmapped plan, skipping",
			slog.Int64("user", user.ID), slog.String("raw_plan", raw))
		s.elog.Add(ctx, eventlog.TypeSkip, "unmapped plan", map[string]eventlog.Value{
			"user": eventlog.Number(float64(user.ID)),
			"plan": eventlog.String(raw),
		})
		return "", false
	}
	return plan, true
}

func (s *ScannerService) setFlag(ctx context.Context, userID int64, key string) error {
	return s.repo.SetUserMeta(ctx, userID, key, strconv.FormatInt(s.clk.Now(), 10))
}

func ceilDays(diff int64) int64 {
	return (diff + secondsPerDay - 1) / secondsPerDay
}
