// Package rabbitmq содержит подключение к RabbitMQ, объявление обменника
// и очередей жизненного цикла, публикацию и потребление сообщений.
//
// Обменник lifecycle — это точка, через которую внешние системы
// (например, биллинг) подписываются на события: истечение пробного периода,
// истечение подписки, подтверждение почты, отписка от рассылок.
package rabbitmq

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Exchange имя обменника событий жизненного цикла.
const Exchange = "lifecycle"

// Ключи маршрутизации событий жизненного цикла.
const (
	KeyTrialExpired        = "trial-expired"
	KeySubscriptionExpired = "subscription-expired"
	KeyVerified            = "verified"
	KeyUnsubscribed        = "unsubscribed"
)

// QueueConfig связывает очередь с ключом маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetLifecycleQueues возвращает конфигурацию очередей событий жизненного цикла.
func GetLifecycleQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "trial_expired_queue", RoutingKey: KeyTrialExpired},
		{QueueName: "subscription_expired_queue", RoutingKey: KeySubscriptionExpired},
		{QueueName: "verified_queue", RoutingKey: KeyVerified},
		{QueueName: "unsubscribed_queue", RoutingKey: KeyUnsubscribed},
	}
}

// Connect подключается к RabbitMQ с повторными попытками.
func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error

	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel открывает канал, объявляет обменник lifecycle и привязывает очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		err = ch.QueueBind(
			q.QueueName,
			q.RoutingKey,
			Exchange,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
