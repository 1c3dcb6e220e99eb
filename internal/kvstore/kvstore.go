// Package kvstore реализует персистентное хранилище ключ-значение
// поверх Redis. Значения сериализуются в JSON. Семантика — последняя
// запись побеждает, транзакционных гарантий нет.
package kvstore

import "context"

// Store интерфейс хранилища ключ-значение.
// Get возвращает false, если ключ отсутствует, — значение по умолчанию
// применяет вызывающая сторона.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}
