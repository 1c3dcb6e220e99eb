// Package interstitial реализует страницу-заглушку для пользователей
// с неподтвержденной почтой. Уже подтвержденных уводит на главную.
package interstitial

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/membership-notifier/internal/http/middlewarectx"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// Handler отдает страницу-заглушку подтверждения почты.
type Handler struct {
	log     *slog.Logger
	users   UserProvider
	tmpl    *templates.Store
	homeURL string
}

// UserProvider возвращает пользователя по идентификатору.
type UserProvider interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// New создает новый Handler.
func New(log *slog.Logger, users UserProvider, tmpl *templates.Store, homeURL string) *Handler {
	return &Handler{
		log:     log,
		users:   users,
		tmpl:    tmpl,
		homeURL: homeURL,
	}
}

// ServeHTTP godoc
// @Summary Страница подтверждения почты
// @Description Показывает заглушку для пользователей с неподтвержденной почтой. Подтвержденных перенаправляет на главную.
// @Tags Verification
// @Produce html
// @Security BearerAuth
// @Success 200 "Страница-заглушка"
// @Success 302 "Почта уже подтверждена, перенаправление"
// @Router /verify-required [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.interstitial"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if userID, ok := r.Context().Value(middlewarectx.UserID).(int64); ok && userID > 0 {
		user, err := h.users.GetUser(r.Context(), userID)
		if err != nil {
			log.Error("failed to load user", slog.Int64("user", userID), sl.Err(err))
		} else if user.IsVerified() {
			http.Redirect(w, r, h.homeURL, http.StatusFound)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(h.tmpl.Render(templates.SlugVerifyRequired, nil)))
}
