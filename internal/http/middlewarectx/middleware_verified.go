package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/magabrotheeeer/membership-notifier/internal/lib/sl"
	"github.com/magabrotheeeer/membership-notifier/internal/models"
)

// UserProvider возвращает пользователя по идентификатору.
type UserProvider interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// VerifiedGateMiddleware перенаправляет аутентифицированных пользователей
// с неподтвержденной почтой на страницу-заглушку. Администраторы и
// маршруты из списка исключений пропускаются без проверки.
// Ставится после JWTMiddleware.
func VerifiedGateMiddleware(users UserProvider, interstitialPath string, allowed []string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.VerifiedGateMiddleware"

			userID, ok := r.Context().Value(UserID).(int64)
			if !ok || userID <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if role, ok := r.Context().Value(Role).(string); ok && role == RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			if pathAllowed(r.URL.Path, interstitialPath, allowed) {
				next.ServeHTTP(w, r)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				// Статус подтверждения неизвестен, доступ закрыт.
				// Маршруты из списка исключений уже пропущены выше.
				log.Error("failed to load user for verified gate",
					slog.Int64("user", userID), sl.Err(err))
				http.Redirect(w, r, interstitialPath, http.StatusFound)
				return
			}
			if user.IsVerified() {
				next.ServeHTTP(w, r)
				return
			}

			http.Redirect(w, r, interstitialPath, http.StatusFound)
		})
	}
}

func pathAllowed(path, interstitialPath string, allowed []string) bool {
	if path == interstitialPath {
		return true
	}
	for _, prefix := range allowed {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
