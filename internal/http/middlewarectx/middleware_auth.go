// Package middlewarectx содержит HTTP middleware внутреннего API:
// проверку сервисного токена и ограничение частоты запросов.
//
// JWTMiddleware проверяет токен в заголовке Authorization и кладёт в контекст
// имя вызывающего сервиса. При ошибке отвечает 401 Unauthorized.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// Service ключ имени вызывающего сервиса в контексте.
const Service Key = "service"

// TokenParser проверяет сервисный токен.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// JWTMiddleware возвращает middleware, который проверяет Bearer-токен.
func JWTMiddleware(parser TokenParser, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				response.Write(w, r, http.StatusUnauthorized, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := parser.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				response.Write(w, r, http.StatusUnauthorized, response.Error("invalid or expired token"))
				return
			}
			ctx := context.WithValue(r.Context(), Service, claims.Service)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
