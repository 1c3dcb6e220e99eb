// Package notifier собирает HTTP-приложение ядра уведомлений:
// хранилища, шину событий, почтовый транспорт и маршруты.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/kvstore"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/jwt"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/smtp"
	"github.com/magabrotheeeer/membership-notifier/internal/migrations"
	senderservice "github.com/magabrotheeeer/membership-notifier/internal/services/sender"
	verificationservice "github.com/magabrotheeeer/membership-notifier/internal/services/verification"
	"github.com/magabrotheeeer/membership-notifier/internal/storage/repository"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// App HTTP-приложение ядра уведомлений.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New инициализирует зависимости и собирает приложение.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	store, err := kvstore.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetLifecycleQueues())
	if err != nil {
		conn.Close()
		return nil, err
	}

	clk := clock.System{}
	elog := eventlog.New(store, clk, logger)
	tmpl := templates.New(cfg.Notifier)
	transport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(transport, elog, logger)
	publisher := rabbitmq.NewPublisher(ch)
	verificationService := verificationservice.NewVerificationService(
		db, tmpl, senderService, publisher, elog, clk, cfg.Notifier, logger)
	maker := jwt.NewMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, &RouteDeps{
		Cfg:          cfg.Notifier,
		Maker:        maker,
		Users:        db,
		Verification: verificationService,
		Templates:    tmpl,
		EventLog:     elog,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if cerr := a.ch.Close(); cerr != nil {
			a.logger.Error("failed to close channel", slog.Any("err", cerr))
		}
		if cerr := a.conn.Close(); cerr != nil {
			a.logger.Error("failed to close connection", slog.Any("err", cerr))
		}
		a.db.DB.Close()
		return err
	}
}
