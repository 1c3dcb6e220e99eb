// Package unsubscribe реализует HTTP-обработчик перехода по ссылке отписки
// от маркетинговых рассылок.
package unsubscribe

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

const deniedPage = `<html><body>
<h1>Ссылка недействительна</h1>
<p>Ссылка отписки устарела. Воспользуйтесь ссылкой из последнего письма.</p>
</body></html>`

// Handler управляет HTTP-запросами отписки.
type Handler struct {
	log     *slog.Logger
	service Service
	tmpl    *templates.Store
}

// Service описывает интерфейс бизнес-логики отписки.
type Service interface {
	Unsubscribe(ctx context.Context, userID int64, token string) error
}

// New создает новый Handler с переданными логгером, сервисом и шаблонами.
func New(log *slog.Logger, service Service, tmpl *templates.Store) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tmpl:    tmpl,
	}
}

// ServeHTTP godoc
// @Summary Отписаться от маркетинговых рассылок
// @Description Проверяет токен отписки из письма. При успехе показывает прощальную страницу, при неуспехе — общую страницу отказа.
// @Tags Verification
// @Produce html
// @Param u query int true "Идентификатор пользователя"
// @Param t query string true "Токен отписки"
// @Success 200 "Прощальная страница"
// @Failure 403 "Ссылка недействительна"
// @Router /unsubscribe [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.unsubscribe"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, err := strconv.ParseInt(r.URL.Query().Get("u"), 10, 64)
	if err != nil {
		log.Error("failed to decode user id from url", sl.Err(err))
		h.deny(w)
		return
	}
	token := r.URL.Query().Get("t")

	if err := h.service.Unsubscribe(r.Context(), userID, token); err != nil {
		log.Error("unsubscribe rejected", slog.Int64("user", userID), sl.Err(err))
		h.deny(w)
		return
	}

	log.Info("user unsubscribed", slog.Int64("user", userID))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(h.tmpl.Render(templates.SlugGoodbye, nil)))
}

func (h *Handler) deny(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(deniedPage))
}
