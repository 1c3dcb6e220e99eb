// Package admintemplate реализует админский HTTP-обработчик сохранения
// переопределений шаблонов писем.
//
// Переопределение с известным слагом сохраняется на диск после санитизации
// и с этого момента имеет приоритет над встроенным шаблоном.
package admintemplate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/membership-notifier/internal/http/response"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// Request тело запроса сохранения переопределения.
type Request struct {
	Content string `json:"content" validate:"required"`
}

// Handler управляет запросами сохранения переопределений шаблонов.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс хранилища шаблонов.
type Service interface {
	SaveOverride(slug, htmlContent string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сохранить переопределение шаблона
// @Description Сохраняет переопределение шаблона письма с указанным слагом. Содержимое проходит санитизацию перед записью.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param slug path string true "Слаг шаблона"
// @Param request body Request true "HTML-содержимое шаблона"
// @Success 200 {object} response.Response "Переопределение сохранено"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Неизвестный слаг"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Хранилище шаблонов недоступно"
// @Router /api/v1/admin/templates/{slug} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admintemplate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	slug := chi.URLParam(r, "slug")
	err := h.service.SaveOverride(slug, req.Content)
	switch {
	case errors.Is(err, templates.ErrUnknownTemplate):
		log.Error("unknown template slug", slog.String("slug", slug))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown template"))
	case errors.Is(err, templates.ErrStorageUnavailable):
		log.Error("template storage unavailable", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("template storage unavailable"))
	case err != nil:
		log.Error("failed to save template override", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to save template override"))
	default:
		log.Info("template override saved", slog.String("slug", slug))
		render.JSON(w, r, response.StatusOKWithData(map[string]string{"slug": slug}))
	}
}
