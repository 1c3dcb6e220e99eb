// Package token реализует генерацию одноразовых токенов подтверждения
// и отписки, а также их сравнение за постоянное время.
//
// Токен — это hex-представление blake2b-256 дайджеста от связки
// (id пользователя | текущее время | 20 случайных байт). Токен непрозрачен
// для получателя и одноразов: хранится только актуальная запись.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const secretLen = 20

// Generate создает новый токен для пользователя userID в момент now.
func Generate(userID int64, now int64) (string, error) {
	const op = "token.Generate"
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	fmt.Fprintf(h, "%d|%d|", userID, now)
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal сравнивает сохраненный и предъявленный токены за постоянное время.
func Equal(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
