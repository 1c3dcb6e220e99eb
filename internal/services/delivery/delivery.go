// Package services связывает очередь доставки с шаблонами и почтовым
// транспортом: обработчики хуков рендерят письмо по слагу задания
// и отправляют его адресату.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/queue"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// UserProvider возвращает пользователя по идентификатору.
type UserProvider interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// MailSender отправляет письмо, возвращая признак успеха.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, htmlBody string, headers []string) bool
}

// UnsubscribeLinker возвращает действующую ссылку отписки пользователя.
type UnsubscribeLinker interface {
	UnsubscribeURLFor(ctx context.Context, userID int64) (string, error)
}

// HandlerRegistry таблица обработчиков очереди доставки.
type HandlerRegistry interface {
	RegisterHandler(hookID string, fn queue.HandlerFunc)
}

// DeliveryService рендерит и отправляет письма из заданий очереди.
type DeliveryService struct {
	repo   UserProvider
	tmpl   *templates.Store
	sender MailSender
	links  UnsubscribeLinker
	cfg    config.Notifier
	log    *slog.Logger
}

// NewDeliveryService создает новый экземпляр DeliveryService.
func NewDeliveryService(repo UserProvider, tmpl *templates.Store, sender MailSender,
	links UnsubscribeLinker, cfg config.Notifier, log *slog.Logger) *DeliveryService {
	return &DeliveryService{
		repo:   repo,
		tmpl:   tmpl,
		sender: sender,
		links:  links,
		cfg:    cfg,
		log:    log,
	}
}

// RegisterHandlers регистрирует обработчики писем жизненного цикла
// в таблице очереди доставки.
func (s *DeliveryService) RegisterHandlers(registry HandlerRegistry) {
	registry.RegisterHandler(templates.SlugPlanExpired, s.HandlePlanExpired)
	registry.RegisterHandler(templates.SlugPlanReminder, s.HandlePlanReminder)
}

// HandlePlanExpired отправляет письмо об истекшем плане. Аргументы задания:
// план пользователя.
func (s *DeliveryService) HandlePlanExpired(ctx context.Context, userID int64, args []any) error {
	const op = "delivery.HandlePlanExpired"

	plan, err := argString(args, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	subject := fmt.Sprintf("Срок действия плана на %s истек", s.cfg.SiteName)
	return s.send(ctx, op, userID, templates.SlugPlanExpired, subject, map[string]string{
		"plan": plan,
	})
}

// HandlePlanReminder отправляет напоминание об истекающем плане. Аргументы
// задания: план и число оставшихся дней.
func (s *DeliveryService) HandlePlanReminder(ctx context.Context, userID int64, args []any) error {
	const op = "delivery.HandlePlanReminder"

	plan, err := argString(args, 0)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	days, err := argInt(args, 1)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	subject := fmt.Sprintf("Ваш план на %s скоро истечет", s.cfg.SiteName)
	return s.send(ctx, op, userID, templates.SlugPlanReminder, subject, map[string]string{
		"plan":           plan,
		"days_remaining": strconv.FormatInt(days, 10),
	})
}

func (s *DeliveryService) send(ctx context.Context, op string, userID int64, slug, subject string, vars map[string]string) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	merged := map[string]string{"username": user.Username}
	for k, v := range vars {
		merged[k] = v
	}

	var headers []string
	if s.links != nil {
		if unsubURL, err := s.links.UnsubscribeURLFor(ctx, userID); err == nil {
			merged["unsubscribe_url"] = unsubURL
			headers = append(headers, fmt.Sprintf("List-Unsubscribe: <%s>", unsubURL))
		} else {
			s.log.Warn("failed to resolve unsubscribe url",
				slog.Int64("user", userID), slog.String("op", op))
		}
	}

	html := s.tmpl.Render(slug, merged)
	if html == "" {
		return fmt.Errorf("%s: template %q rendered empty", op, slug)
	}
	if !s.sender.SendMail(ctx, user.Email, subject, html, headers) {
		return fmt.Errorf("%s: transient send failure", op)
	}
	return nil
}

// Аргументы заданий проходят через JSON, поэтому числа приходят как
// float64, а при повторной постановке из кода — как int64.
func argString(args []any, idx int) (string, error) {
	if idx >= len(args) {
		return "", fmt.Errorf("missing argument %d", idx)
	}
	v, ok := args[idx].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", idx, args[idx])
	}
	return v, nil
}

func argInt(args []any, idx int) (int64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing argument %d", idx)
	}
	switch v := args[idx].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("argument %d: expected number, got %T", idx, args[idx])
	}
}
