package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory хранилище в памяти процесса. Используется в тестах.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory создает пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get читает значение по ключу. Возвращает false, если ключ отсутствует.
func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	const op = "kvstore.Memory.Get"
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Set сохраняет значение по ключу.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	const op = "kvstore.Memory.Set"
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

// Delete удаляет ключ.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
