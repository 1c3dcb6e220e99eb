package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/membership-notifier/internal/models"
)

// ErrUserNotFound пользователь с таким идентификатором отсутствует в справочнике.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, email, username, role, lower(subscription_status),
			      COALESCE(expiry_timestamp, 0), COALESCE(verified_at, 0), marketing_opt_out`

// GetUser возвращает пользователя по его ID.
func (s *Storage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE id = $1`
	u := &models.User{}
	row := s.DB.QueryRowContext(ctx, query, id)

	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.SubscriptionStatus,
		&u.ExpiryTimestamp, &u.VerifiedAt, &u.MarketingOptOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// FindExpiringWithin возвращает пользователей с известной датой истечения,
// попадающей в окно (expiry <= now + window секунд), включая уже истекшие.
func (s *Storage) FindExpiringWithin(ctx context.Context, now, window int64) ([]*models.User, error) {
	const op = "storage.FindExpiringWithin"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE expiry_timestamp IS NOT NULL
			    AND expiry_timestamp > 0
			    AND expiry_timestamp <= $1
			  ORDER BY id`
	return s.queryUsers(ctx, op, query, now+window)
}

// FindWithExpiry возвращает всех пользователей с любой известной датой истечения.
func (s *Storage) FindWithExpiry(ctx context.Context) ([]*models.User, error) {
	const op = "storage.FindWithExpiry"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE expiry_timestamp IS NOT NULL
			    AND expiry_timestamp > 0
			  ORDER BY id`
	return s.queryUsers(ctx, op, query)
}

// SetVerifiedAt отмечает пользователя как подтвердившего почту в момент ts.
func (s *Storage) SetVerifiedAt(ctx context.Context, id int64, ts int64) error {
	const op = "storage.SetVerifiedAt"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET verified_at = $1 WHERE id = $2`
	result, err := s.DB.ExecContext(ctx, query, ts, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.requireAffected(op, result)
}

// SetMarketingOptOut устанавливает отказ пользователя от маркетинговых рассылок.
func (s *Storage) SetMarketingOptOut(ctx context.Context, id int64, optOut bool) error {
	const op = "storage.SetMarketingOptOut"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET marketing_opt_out = $1 WHERE id = $2`
	result, err := s.DB.ExecContext(ctx, query, optOut, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.requireAffected(op, result)
}

func (s *Storage) queryUsers(ctx context.Context, op, query string, args ...any) ([]*models.User, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.SubscriptionStatus,
			&u.ExpiryTimestamp, &u.VerifiedAt, &u.MarketingOptOut); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		u.SubscriptionStatus = strings.ToLower(u.SubscriptionStatus)
		result = append(result, &u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func (s *Storage) requireAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}
