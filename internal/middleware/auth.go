// Package middleware содержит HTTP middleware консоли онбординга.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/hive-onboarder/internal/validation"
)

type contextKey string

const accountKey contextKey = "account"

const (
	authCookieName = "operator"
	authCookieTTL  = 7 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации оператора по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: cookie перестанут действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("hive-onboarder-secret")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет аккаунт оператора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		account, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для аккаунта оператора.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, account string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    account + "." + a.sign(account),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookie удаляет cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) sign(account string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(account))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(value string) (string, bool) {
	// Имена аккаунтов могут содержать точки, подпись всегда после последней.
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}

	account, signature := value[:i], value[i+1:]
	if !hmac.Equal([]byte(signature), []byte(a.sign(account))) {
		return "", false
	}

	if !validation.IsValidAccount(account) {
		return "", false
	}

	return account, true
}

// GetAccountFromContext извлекает аккаунт оператора из контекста запроса.
func GetAccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(accountKey).(string)
	return account, ok
}
