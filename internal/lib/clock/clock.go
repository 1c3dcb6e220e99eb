// Package clock абстрагирует текущее время, чтобы логика сканирования
// и проверки TTL токенов была тестируема на синтетическом времени.
package clock

import "time"

// Clock возвращает текущее время в unix-секундах.
type Clock interface {
	Now() int64
}

// System часы процесса.
type System struct{}

// Now возвращает текущее системное время в unix-секундах.
func (System) Now() int64 {
	return time.Now().Unix()
}

// Fake управляемые часы для тестов.
type Fake struct {
	Current int64
}

// Now возвращает заданное время.
func (f *Fake) Now() int64 {
	return f.Current
}

// Advance сдвигает часы вперед на d секунд.
func (f *Fake) Advance(d int64) {
	f.Current += d
}
