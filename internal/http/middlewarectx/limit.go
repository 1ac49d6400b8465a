package middlewarectx

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
)

// RateLimitMiddleware ограничивает частоту запросов: rps в секунду, всплеск до burst.
func RateLimitMiddleware(log *slog.Logger, rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Warn("too many requests", slog.String("path", r.URL.Path))
				response.Write(w, r, http.StatusTooManyRequests, response.Error("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
