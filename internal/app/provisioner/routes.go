// Package provisioner собирает HTTP API выдачи доступа и приёма платежей.
package provisioner

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/gift/redeem"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/health"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/payment/paymentbalance"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/payment/paymentcreate"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/referral/referralbind"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/referral/referralcode"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/subscription/activate"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/subscription/trial"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/middlewarectx"
	paymentservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/payment"
	subservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/subscription"
)

// Deps зависимости маршрутов.
type Deps struct {
	Payments *paymentservice.Service
	Manager  *subservice.Manager
	Tokens   middlewarectx.TokenParser
	Verifier *paymentwebhook.Verifier
	DB       health.Pinger

	Allowed paymentwebhook.Networks
	Proxies paymentwebhook.Networks
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.HTTPServer, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Запросы бота
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, cfg.RateLimit, cfg.RateBurst))
			r.Post("/payments", paymentcreate.New(logger, d.Payments).ServeHTTP)
			r.Post("/payments/balance", paymentbalance.New(logger, d.Payments).ServeHTTP)
			r.Post("/gifts/redeem", redeem.New(logger, d.Payments).ServeHTTP)
			r.Post("/referrals/code", referralcode.New(logger, d.Payments).ServeHTTP)
			r.Post("/referrals/bind", referralbind.New(logger, d.Payments).ServeHTTP)
			r.Post("/subscriptions/trial", trial.New(logger, d.Manager).ServeHTTP)
			r.Post("/subscriptions/activate", activate.New(logger, d.Manager).ServeHTTP)
		})

		// Уведомления ЮKassa: подпись и адрес отправителя вместо JWT
		r.With(paymentwebhook.TrustedIPMiddleware(d.Allowed, d.Proxies, logger)).
			Post("/payments/webhook", paymentwebhook.New(logger, d.Payments, d.Verifier).ServeHTTP)
	})

	r.Get("/health", health.New(logger, d.DB).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
