package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var hmacSecret []byte

// Init задает секрет проверки подписи токенов
func Init(cfg *Config) {
	hmacSecret = []byte(cfg.JWTSecret)
}

// VerifyToken извлекает идентификатор пользователя из заголовка
// Authorization. Отсутствие заголовка не считается ошибкой: анонимные
// вызывающие допускаются, для них возвращается пустой идентификатор.
// Некорректный токен возвращает ошибку.
func VerifyToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}

	raw := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return hmacSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to authenticate token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected token claims type")
	}

	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no user identity")
	}

	return sub, nil
}
