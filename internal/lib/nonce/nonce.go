// Package nonce вычисляет и проверяет HMAC-подпись для AJAX-запросов:
// клиент подписывает имя пользователя серверным секретом, сервер сверяет
// подпись до выполнения операции.
package nonce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSecurityCheck подпись не совпала: запрос отклоняется без изменения состояния.
var ErrSecurityCheck = errors.New("security check failed")

// Compute возвращает hex HMAC-SHA256 от username на секрете secret.
func Compute(username, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сверяет предъявленную подпись с ожидаемой за константное время.
func Verify(username, secret, presented string) error {
	if presented == "" || !hmac.Equal([]byte(Compute(username, secret)), []byte(presented)) {
		return ErrSecurityCheck
	}
	return nil
}
