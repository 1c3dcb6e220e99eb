// Package verify реализует HTTP-обработчик перехода по ссылке подтверждения
// из письма.
//
// Успешная проверка токена завершается перенаправлением на настроенный адрес,
// любая неуспешная — общей страницей отказа без раскрытия причины.
package verify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
)

// Общая страница отказа: причина (неверный токен, срок, чужой пользователь)
// наружу не сообщается.
const deniedPage = `<html><body>
<h1>Ссылка недействительна</h1>
<p>Ссылка подтверждения устарела или уже была использована.
Запросите новое письмо в личном кабинете.</p>
</body></html>`

// Handler управляет HTTP-запросами подтверждения почты.
type Handler struct {
	log         *slog.Logger
	service     Service
	redirectURL string
}

// Service описывает интерфейс бизнес-логики подтверждения почты.
type Service interface {
	Verify(ctx context.Context, userID int64, token string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service, redirectURL string) *Handler {
	return &Handler{
		log:         log,
		service:     service,
		redirectURL: redirectURL,
	}
}

// ServeHTTP godoc
// @Summary Подтвердить адрес почты
// @Description Проверяет одноразовый токен из письма. При успехе перенаправляет на настроенный адрес, при неуспехе показывает общую страницу отказа.
// @Tags Verification
// @Produce html
// @Param user query int true "Идентификатор пользователя"
// @Param token query string true "Токен подтверждения"
// @Success 302 "Перенаправление после успешного подтверждения"
// @Failure 403 "Ссылка недействительна"
// @Router /verify [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.verify"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
	if err != nil {
		log.Error("failed to decode user id from url", sl.Err(err))
		h.deny(w)
		return
	}
	token := r.URL.Query().Get("token")

	if err := h.service.Verify(r.Context(), userID, token); err != nil {
		log.Error("verification rejected", slog.Int64("user", userID), sl.Err(err))
		h.deny(w)
		return
	}

	log.Info("email verified", slog.Int64("user", userID))
	http.Redirect(w, r, h.redirectURL, http.StatusFound)
}

func (h *Handler) deny(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(deniedPage))
}
