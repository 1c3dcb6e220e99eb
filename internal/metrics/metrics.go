// Package metrics объявляет счетчики Prometheus ядра уведомлений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счетчики отправки писем и работы очереди.
var (
	EmailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_emails_sent_total",
		Help: "Total number of emails accepted by the mail transport.",
	})
	EmailsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_emails_failed_total",
		Help: "Total number of emails the mail transport failed to send.",
	})
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_queue_jobs_enqueued_total",
		Help: "Total number of jobs appended to the delivery queue.",
	})
	JobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_queue_jobs_dispatched_total",
		Help: "Total number of jobs dispatched by queue drains.",
	})
	JobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_queue_jobs_dropped_total",
		Help: "Total number of jobs dropped because the hook is not registered.",
	})
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_lifecycle_scans_total",
		Help: "Total number of completed lifecycle scans.",
	})
)
