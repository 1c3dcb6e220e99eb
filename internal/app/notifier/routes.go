// Package notifier предоставляет маршруты HTTP-приложения.
package notifier

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/adminlog"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/admintemplate"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/health"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/interstitial"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/resend"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/unsubscribe"
	"github.com/magabrotheeeer/membership-notifier/internal/http/handlers/verify"
	"github.com/magabrotheeeer/membership-notifier/internal/http/middlewarectx"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/jwt"
	verificationservice "github.com/magabrotheeeer/membership-notifier/internal/services/verification"
	"github.com/magabrotheeeer/membership-notifier/internal/storage/repository"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// RouteDeps зависимости маршрутов приложения.
type RouteDeps struct {
	Cfg          config.Notifier
	Maker        *jwt.Maker
	Users        *repository.Storage
	Verification *verificationservice.VerificationService
	Templates    *templates.Store
	EventLog     *eventlog.Log
}

// Маршруты, доступные пользователям с неподтвержденной почтой.
var verifiedGateAllowed = []string{
	"/verify",
	"/unsubscribe",
	"/health",
	"/metrics",
	"/docs",
	"/api/v1/ajax/resend-verification",
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, deps *RouteDeps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	// Открытые конечные точки переходов из писем, с ограничением частоты
	// для защиты от перебора токенов
	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger, rate.Limit(5), 10))

		r.Get("/verify", verify.New(logger, deps.Verification, deps.Cfg.VerifyRedirectURL).ServeHTTP)
		r.Get("/unsubscribe", unsubscribe.New(logger, deps.Verification, deps.Templates).ServeHTTP)
	})

	r.Get("/health", health.New(logger, deps.Users).ServeHTTP)

	// Группа с JWT аутентификацией
	r.Group(func(r chi.Router) {
		r.Use(middlewarectx.JWTMiddleware(deps.Maker, logger))
		r.Use(middlewarectx.VerifiedGateMiddleware(deps.Users, deps.Cfg.InterstitialPath, verifiedGateAllowed, logger))
		r.Use(middlewarectx.RateLimitMiddleware(logger, rate.Limit(1), 3))

		r.Get(deps.Cfg.InterstitialPath, interstitial.New(logger, deps.Users, deps.Templates, deps.Cfg.SiteURL).ServeHTTP)
		r.Post("/api/v1/ajax/resend-verification", resend.New(logger, deps.Verification, deps.Cfg.NonceSecret).ServeHTTP)

		// Админские конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RequireAdminMiddleware(logger))
			r.Get("/api/v1/admin/log", adminlog.New(logger, deps.EventLog).ServeHTTP)
			r.Post("/api/v1/admin/templates/{slug}", admintemplate.New(logger, deps.Templates).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
