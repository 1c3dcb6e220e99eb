// Package scanner собирает фоновое приложение жизненного цикла:
// планировщик с повторяющимся сканированием и слив очереди доставки.
package scanner

import (
	"context"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/eventlog"
	"github.com/magabrotheeeer/membership-notifier/internal/kvstore"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/clock"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/smtp"
	"github.com/magabrotheeeer/membership-notifier/internal/queue"
	"github.com/magabrotheeeer/membership-notifier/internal/scheduler"
	deliveryservice "github.com/magabrotheeeer/membership-notifier/internal/services/delivery"
	scannerservice "github.com/magabrotheeeer/membership-notifier/internal/services/scanner"
	senderservice "github.com/magabrotheeeer/membership-notifier/internal/services/sender"
	verificationservice "github.com/magabrotheeeer/membership-notifier/internal/services/verification"
	"github.com/magabrotheeeer/membership-notifier/internal/storage/repository"
	"github.com/magabrotheeeer/membership-notifier/internal/templates"
)

// App фоновое приложение сканирования и доставки.
type App struct {
	sched   *scheduler.Scheduler
	scanner *scannerservice.ScannerService
	logger  *slog.Logger
	cfg     *config.Config
	db      *repository.Storage
	conn    *amqp.Connection
	ch      *amqp.Channel
}

// New инициализирует зависимости и собирает приложение.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
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

	sched := scheduler.New(logger)
	deliveryQueue := queue.New(store, sched, clk, elog, logger)

	deliveryService := deliveryservice.NewDeliveryService(
		db, tmpl, senderService, verificationService, cfg.Notifier, logger)
	deliveryService.RegisterHandlers(deliveryQueue)

	scannerService := scannerservice.NewScannerService(
		db, deliveryQueue, publisher, senderService, verificationService,
		tmpl, elog, clk, cfg.Notifier, logger)

	sched.Register(queue.DrainHook, func(ctx context.Context, _ []any) error {
		return deliveryQueue.Process(ctx)
	})
	sched.Register(scannerservice.ScanHook, func(ctx context.Context, _ []any) error {
		scannerService.RunScan(ctx)
		return nil
	})

	return &App{
		sched:   sched,
		scanner: scannerService,
		logger:  logger,
		cfg:     cfg,
		db:      db,
		conn:    conn,
		ch:      ch,
	}, nil
}

// Run выполняет первый проход сразу, включает повторяющееся сканирование
// и работает до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	a.scanner.RunScan(ctx)
	a.sched.ScheduleRecurring(ctx, a.cfg.ScanInterval, scannerservice.ScanHook)

	<-ctx.Done()
	a.logger.Info("scanner shutting down gracefully")
	a.sched.Stop()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	a.db.DB.Close()
	return nil
}
