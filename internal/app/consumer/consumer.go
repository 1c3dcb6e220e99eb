// Package consumer собирает приложение-потребитель событий жизненного
// цикла: демонстрационная точка интеграции для внешних систем
// (биллинг, аналитика), слушающих обменник lifecycle.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/membership-notifier/internal/config"
	"github.com/magabrotheeeer/membership-notifier/internal/lib/rabbitmq"
	scannerservice "github.com/magabrotheeeer/membership-notifier/internal/services/scanner"
)

// App приложение-потребитель событий жизненного цикла.
type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// New подключается к RabbitMQ и готовит канал с очередями жизненного цикла.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, err
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetLifecycleQueues())
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &App{
		conn:   conn,
		ch:     ch,
		logger: logger,
	}, nil
}

// Run запускает потребителей всех очередей жизненного цикла и работает
// до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.GetLifecycleQueues() {
		queueName, routingKey := q.QueueName, q.RoutingKey
		err := rabbitmq.ConsumerMessage(ctx, a.ch, queueName, a.logEvent(routingKey))
		if err != nil {
			a.logger.Error("failed to start consumer",
				slog.String("queue", queueName), slog.Any("err", err))
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("lifecycle consumer shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", slog.Any("err", err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", slog.Any("err", err))
	}
	return nil
}

func (a *App) logEvent(routingKey string) func([]byte) error {
	return func(body []byte) error {
		var event scannerservice.LifecycleEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("consumer.logEvent: %w", err)
		}
		a.logger.Info("lifecycle event received",
			slog.String("event", routingKey),
			slog.Int64("user", event.UserID),
			slog.String("plan", event.Plan))
		return nil
	}
}
