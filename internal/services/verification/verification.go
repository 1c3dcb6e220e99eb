// Package services реализует протокол подтверждения почты и отписки:
// выдача одноразовых токенов с ограниченным сроком жизни, проверка
// с защитой от повторного использования, ротация токена отписки.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/token"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// Ошибки протокола подтверждения.
var (
	// ErrValidation неверный запрос или токен: пользователю показывается
	// общая ошибка без деталей.
	ErrValidation = errors.New("validation failed")
	// ErrTokenExpired срок жизни токена истек.
	ErrTokenExpired = errors.New("token expired")
	// ErrAlreadyVerified почта пользователя уже подтверждена.
	ErrAlreadyVerified = errors.New("email already verified")
)

// UserRepository справочник пользователей и их мета-полей.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error)
	SetUserMeta(ctx context.Context, userID int64, key, value string) error
	DeleteUserMeta(ctx context.Context, userID int64, key string) error
	SetVerifiedAt(ctx context.Context, id int64, ts int64) error
	SetMarketingOptOut(ctx context.Context, id int64, optOut bool) error
}

// MailSender отправляет письмо, возвращая признак успеха.
type MailSender interface {
	SendMail(ctx context.Context, to, subject, htmlBody string, headers []string) bool
}

// EventPublisher публикует события жизненного цикла.
type EventPublisher interface {
	Publish(routingKey string, message any) error
}

// LifecycleEvent сообщение о событии жизненного цикла для внешних подписчиков.
type LifecycleEvent struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

// VerificationService реализует протокол подтверждения почты и отписки.
type VerificationService struct {
	repo      UserRepository
	tmpl      *templates.Store
	sender    MailSender
	publisher EventPublisher
	elog      *eventlog.Log
	clk       clock.Clock
	cfg       config.Notifier
	log       *slog.Logger
}

// NewVerificationService создает новый экземпляр VerificationService.
func NewVerificationService(repo UserRepository, tmpl *templates.Store, sender MailSender,
	publisher EventPublisher, elog *eventlog.Log, clk clock.Clock, cfg config.Notifier,
	log *slog.Logger) *VerificationService {
	return &VerificationService{
		repo:      repo,
		tmpl:      tmpl,
		sender:    sender,
		publisher: publisher,
		elog:      elog,
		clk:       clk,
		cfg:       cfg,
		log:       log,
	}
}

// IssueVerificationToken генерирует и сохраняет токен подтверждения почты,
// перезаписывая прежний: старый токен немедленно становится недействительным.
func (s *VerificationService) IssueVerificationToken(ctx context.Context, userID int64) (string, error) {
	return s.issueToken(ctx, userID, models.MetaVerifyToken)
}

// IssueUnsubscribeToken генерирует и сохраняет токен отписки.
func (s *VerificationService) IssueUnsubscribeToken(ctx context.Context, userID int64) (string, error) {
	return s.issueToken(ctx, userID, models.MetaUnsubscribeToken)
}

// VerificationLink строит ссылку подтверждения для письма.
func (s *VerificationService) VerificationLink(userID int64, tok string) string {
	return fmt.Sprintf("%s?user=%d&token=%s", s.cfg.VerifyBaseURL, userID, url.QueryEscape(tok))
}

// UnsubscribeLink строит ссылку отписки для письма.
func (s *VerificationService) UnsubscribeLink(userID int64, tok string) string {
	return fmt.Sprintf("%s?u=%d&t=%s", s.cfg.UnsubscribeBaseURL, userID, url.QueryEscape(tok))
}

// UnsubscribeURLFor возвращает действующую ссылку отписки пользователя,
// выдавая токен при его отсутствии.
func (s *VerificationService) UnsubscribeURLFor(ctx context.Context, userID int64) (string, error) {
	const op = "verification.UnsubscribeURLFor"

	rec, found, err := s.loadToken(ctx, userID, models.MetaUnsubscribeToken)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if found {
		return s.UnsubscribeLink(userID, rec.Token), nil
	}
	tok, err := s.IssueUnsubscribeToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return s.UnsubscribeLink(userID, tok), nil
}

// SendVerificationEmail выдает свежий токен и отправляет письмо со ссылкой
// подтверждения. Возвращает ошибку, если письмо не удалось отправить.
func (s *VerificationService) SendVerificationEmail(ctx context.Context, user *models.User) error {
	const op = "verification.SendVerificationEmail"

	tok, err := s.IssueVerificationToken(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	html := s.tmpl.Render(templates.SlugVerifyEmail, map[string]string{
		"username":   user.Username,
		"verify_url": s.VerificationLink(user.ID, tok),
	})
	if html == "" {
		return nil
	}

	subject := fmt.Sprintf("Подтвердите адрес почты на %s", s.cfg.SiteName)
	if !s.sender.SendMail(ctx, user.Email, subject, html, nil) {
		return fmt.Errorf("%s: transient send failure", op)
	}
	return nil
}

// ResendVerification повторно выдает токен и отправляет письмо
// подтверждения. Для уже подтвержденной почты возвращает ErrAlreadyVerified.
func (s *VerificationService) ResendVerification(ctx context.Context, userID int64) error {
	const op = "verification.ResendVerification"

	if userID <= 0 {
		return fmt.Errorf("%s: %w", op, ErrValidation)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user.IsVerified() {
		return fmt.Errorf("%s: %w", op, ErrAlreadyVerified)
	}
	return s.SendVerificationEmail(ctx, user)
}

// Verify проверяет токен подтверждения. Успешная проверка одноразова:
// запись токена удаляется, повторный запрос с тем же токеном отклоняется.
func (s *VerificationService) Verify(ctx context.Context, userID int64, presented string) error {
	const op = "verification.Verify"

	if userID <= 0 || presented == "" {
		return fmt.Errorf("%s: %w", op, ErrValidation)
	}

	rec, found, err := s.loadToken(ctx, userID, models.MetaVerifyToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !found || !token.Equal(rec.Token, presented) {
		return fmt.Errorf("%s: %w", op, ErrValidation)
	}
	if s.expired(rec.GeneratedAt) {
		return fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	now := s.clk.Now()
	if err := s.repo.SetVerifiedAt(ctx, userID, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.DeleteUserMeta(ctx, userID, models.MetaVerifyToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publishEvent(ctx, rabbitmq.KeyVerified, userID)
	s.elog.Add(ctx, eventlog.TypeVerify, "email verified", map[string]eventlog.Value{
		"user": eventlog.Number(float64(userID)),
	})
	return nil
}

// Unsubscribe проверяет токен отписки и отмечает отказ от маркетинговых
// рассылок. В отличие от подтверждения токен не удаляется, а ротируется:
// ссылка в будущем письме будет действовать, использованная — нет.
func (s *VerificationService) Unsubscribe(ctx context.Context, userID int64, presented string) error {
	const op = "verification.Unsubscribe"

	if userID <= 0 || presented == "" {
		return fmt.Errorf("%s: %w", op, ErrValidation)
	}

	rec, found, err := s.loadToken(ctx, userID, models.MetaUnsubscribeToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !found || !token.Equal(rec.Token, presented) {
		return fmt.Errorf("%s: %w", op, ErrValidation)
	}

	if err := s.repo.SetMarketingOptOut(ctx, userID, true); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.IssueUnsubscribeToken(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publishEvent(ctx, rabbitmq.KeyUnsubscribed, userID)
	s.elog.Add(ctx, eventlog.TypeUnsub, "marketing opt-out", map[string]eventlog.Value{
		"user": eventlog.Number(float64(userID)),
	})
	return nil
}

func (s *VerificationService) issueToken(ctx context.Context, userID int64, metaKey string) (string, error) {
	const op = "verification.issueToken"

	now := s.clk.Now()
	tok, err := token.Generate(userID, now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	raw, err := json.Marshal(models.TokenRecord{Token: tok, GeneratedAt: now})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.SetUserMeta(ctx, userID, metaKey, string(raw)); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

func (s *VerificationService) loadToken(ctx context.Context, userID int64, metaKey string) (models.TokenRecord, bool, error) {
	var rec models.TokenRecord

	raw, found, err := s.repo.GetUserMeta(ctx, userID, metaKey)
	if err != nil {
		return rec, false, err
	}
	if !found {
		return rec, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func (s *VerificationService) expired(generatedAt int64) bool {
	ttl := int64(s.cfg.VerifyTokenTTL.Seconds())
	if ttl <= 0 {
		return false
	}
	return s.clk.Now()-generatedAt > ttl
}

func (s *VerificationService) publishEvent(ctx context.Context, routingKey string, userID int64) {
	email := ""
	if user, err := s.repo.GetUser(ctx, userID); err == nil {
		email = user.Email
	}
	event := LifecycleEvent{UserID: userID, Email: email, Timestamp: s.clk.Now()}
	if err := s.publisher.Publish(routingKey, event); err != nil {
		s.log.Error("failed to publish lifecycle event",
			slog.String("routing_key", routingKey), sl.Err(err))
	}
}
