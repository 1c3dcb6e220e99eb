package models

// QueueJob задание в очереди доставки. Уникальность на уровне очереди не
// гарантируется, дедупликация выполняется продюсером через sent-флаги.
type QueueJob struct {
	ID         string `json:"id"`
	HookID     string `json:"hook_id"`
	UserID     int64  `json:"user_id"`
	Args       []any  `json:"args"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// MaxPerHour предельное число отправок в скользящем часовом окне.
const MaxPerHour = 100

// RateWindow скользящее часовое окно отправок. Если с начала окна прошло
// больше часа, окно сбрасывается в {now, 0}.
type RateWindow struct {
	WindowStart int64 `json:"window_start"`
	Count       int   `json:"count"`
}

// Stale сообщает, устарело ли окно к моменту now.
func (w *RateWindow) Stale(now int64) bool {
	return now-w.WindowStart >= 3600
}
