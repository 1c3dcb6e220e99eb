// Package resend реализует AJAX-обработчик повторной отправки письма
// подтверждения.
//
// Запрос должен нести валидный JWT и заголовок X-Notifier-Nonce с
// HMAC-подписью имени пользователя: без нее состояние не меняется.
package resend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/membership-notifier/internal/http/middlewarectx"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/nonce"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	services "github.com/magabrotheeeer/membership-notifier/internal/services/verification"
)

// NonceHeader имя заголовка с HMAC-подписью запроса.
const NonceHeader = "X-Notifier-Nonce"

// AjaxResponse формат ответа AJAX-эндпоинтов личного кабинета.
type AjaxResponse struct {
	Success bool     `json:"success"`
	Data    AjaxData `json:"data"`
}

// AjaxData полезная нагрузка AJAX-ответа.
type AjaxData struct {
	Message string `json:"message"`
}

// Handler управляет запросами повторной отправки письма подтверждения.
type Handler struct {
	log         *slog.Logger
	service     Service
	nonceSecret string
}

// Service описывает интерфейс бизнес-логики повторной отправки.
type Service interface {
	ResendVerification(ctx context.Context, userID int64) error
}

// New создает новый Handler с переданными логгером, сервисом и секретом подписи.
func New(log *slog.Logger, service Service, nonceSecret string) *Handler {
	return &Handler{
		log:         log,
		service:     service,
		nonceSecret: nonceSecret,
	}
}

// ServeHTTP godoc
// @Summary Повторно отправить письмо подтверждения
// @Description Переиздает токен и отправляет письмо подтверждения текущему пользователю. Требует заголовок X-Notifier-Nonce с HMAC-подписью имени пользователя.
// @Tags Verification
// @Produce json
// @Security BearerAuth
// @Param X-Notifier-Nonce header string true "HMAC-подпись имени пользователя"
// @Success 200 {object} AjaxResponse "Письмо отправлено"
// @Failure 403 {object} AjaxResponse "Подпись не прошла проверку"
// @Failure 500 {object} AjaxResponse "Не удалось отправить письмо"
// @Router /api/v1/ajax/resend-verification [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.resend"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, okID := r.Context().Value(middlewarectx.UserID).(int64)
	username, okName := r.Context().Value(middlewarectx.User).(string)
	if !okID || !okName || userID <= 0 {
		log.Error("user identification missing")
		h.respond(w, r, http.StatusUnauthorized, false, "unauthorized")
		return
	}

	if err := nonce.Verify(username, h.nonceSecret, r.Header.Get(NonceHeader)); err != nil {
		log.Error("security check failed", slog.String("username", username), sl.Err(err))
		h.respond(w, r, http.StatusForbidden, false, "security check failed")
		return
	}

	err := h.service.ResendVerification(r.Context(), userID)
	switch {
	case errors.Is(err, services.ErrAlreadyVerified):
		h.respond(w, r, http.StatusOK, true, "email already verified")
	case err != nil:
		log.Error("failed to resend verification email", slog.Int64("user", userID), sl.Err(err))
		h.respond(w, r, http.StatusInternalServerError, false, "failed to send email")
	default:
		log.Info("verification email resent", slog.Int64("user", userID))
		h.respond(w, r, http.StatusOK, true, "verification email sent")
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, success bool, message string) {
	render.Status(r, status)
	render.JSON(w, r, AjaxResponse{Success: success, Data: AjaxData{Message: message}})
}
