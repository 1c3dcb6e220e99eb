// Package adminlog реализует админский HTTP-обработчик просмотра журнала
// событий рассылок: последние записи и счетчики по типам.
package adminlog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/http/response"
)

// Handler отдает журнал событий администратору.
type Handler struct {
	log  *slog.Logger
	elog *eventlog.Log
}

// New создает новый Handler.
func New(log *slog.Logger, elog *eventlog.Log) *Handler {
	return &Handler{log: log, elog: elog}
}

// logView данные ответа: записи от новых к старым и счетчики по типам.
type logView struct {
	Entries []eventlog.Entry           `json:"entries"`
	Stats   map[eventlog.EntryType]int `json:"stats"`
}

// ServeHTTP godoc
// @Summary Журнал событий рассылок
// @Description Возвращает последние записи журнала (от новых к старым) и счетчики по типам событий.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response "Журнал событий"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Требуется роль администратора"
// @Router /api/v1/admin/log [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.adminlog"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	view := logView{
		Entries: h.elog.Entries(r.Context()),
		Stats:   h.elog.Stats(r.Context()),
	}
	log.Info("event log requested", slog.Int("entries", len(view.Entries)))
	render.JSON(w, r, response.StatusOKWithData(view))
}
