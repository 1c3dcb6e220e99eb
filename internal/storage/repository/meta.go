package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUserMeta возвращает значение мета-поля пользователя.
// Второй результат false означает отсутствие поля.
func (s *Storage) GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error) {
	const op = "storage.GetUserMeta"
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT meta_value FROM user_meta WHERE user_id = $1 AND meta_key = $2`
	var value string
	if err := s.DB.QueryRowContext(ctx, query, userID, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return value, true, nil
}

// SetUserMeta сохраняет значение мета-поля пользователя, заменяя прежнее.
func (s *Storage) SetUserMeta(ctx context.Context, userID int64, key, value string) error {
	const op = "storage.SetUserMeta"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO user_meta (user_id, meta_key, meta_value)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`
	if _, err := s.DB.ExecContext(ctx, query, userID, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteUserMeta удаляет мета-поле пользователя. Отсутствие поля не ошибка.
func (s *Storage) DeleteUserMeta(ctx context.Context, userID int64, key string) error {
	const op = "storage.DeleteUserMeta"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `DELETE FROM user_meta WHERE user_id = $1 AND meta_key = $2`
	if _, err := s.DB.ExecContext(ctx, query, userID, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HasUserMeta сообщает, установлено ли мета-поле пользователя.
func (s *Storage) HasUserMeta(ctx context.Context, userID int64, key string) (bool, error) {
	_, found, err := s.GetUserMeta(ctx, userID, key)
	return found, err
}
