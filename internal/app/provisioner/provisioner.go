package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sealed"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/migrations"
	"github.com/magabrotheeeer/vpn-provisioner/internal/panel"
	"github.com/magabrotheeeer/vpn-provisioner/internal/paymentprovider"
	paymentservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/payment"
	subservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/subscription"
	"github.com/magabrotheeeer/vpn-provisioner/internal/storage/repository"
	"github.com/magabrotheeeer/vpn-provisioner/internal/telegram"
)

// tokenTTL срок жизни токенов, которые выпускает сам сервис; здесь токены
// только проверяются.
const tokenTTL = time.Hour

// App HTTP API, бот для звёзд и их ресурсы.
type App struct {
	server *http.Server
	bot    *telegram.Bot
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// WaitForDB ждёт применения миграций.
func WaitForDB(ctx context.Context, db *repository.Storage, attempts int, delay time.Duration) error {
	for range attempts {
		if err := repository.CheckDatabaseReady(db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database not ready after retries")
}

// NewRegistry создаёт реестр клиентов панелей. Без ключа пароли панелей
// читаются как есть.
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*panel.Registry, error) {
	var unsealer panel.Unsealer
	if cfg.PanelKey != "" {
		box, err := sealed.New(cfg.PanelKey)
		if err != nil {
			return nil, fmt.Errorf("panel key: %w", err)
		}
		unsealer = box
	} else {
		logger.Warn("panel key is not set, panel passwords are stored in plain text")
	}

	return panel.NewRegistry(panel.Options{
		Timeout:       cfg.RequestTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.Panel.RetryDelay,
		Flow:          cfg.Flow,
		LimitIP:       cfg.LimitIP,
	}, unsealer, logger), nil
}

// New создаёт приложение и все его зависимости.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		a.close()
		return nil, err
	}
	if err = WaitForDB(ctx, db, 10, 3*time.Second); err != nil {
		a.close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}
	a.cache = cacheRedis

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.conn = conn
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.ch = ch
	publisher := rabbitmq.NewPublisher(ch)

	registry, err := NewRegistry(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	manager := subservice.New(db, subservice.RegistryClients(registry), cacheRedis, subservice.Settings{
		TrialDays:           cfg.Trial.Days,
		TrialTrafficCapGB:   cfg.TrafficCapGB,
		ActivationBonusDays: cfg.ActivationBonusDays,
		ProfileTTL:          cfg.ProfileTTL,
	}, logger)
	processor := paymentservice.NewProcessor(db, manager, publisher, paymentservice.Commission{
		L1Percent: cfg.L1Percent,
		L2Percent: cfg.L2Percent,
	}, logger)
	checkout := paymentprovider.NewClient(cfg.YooKassa, logger)
	payments := paymentservice.NewService(db, processor, checkout,
		paymentservice.Referral{JoinBonus: cfg.JoinBonusKopecks}, logger)

	allowed, err := paymentwebhook.ParseNetworks(cfg.TrustedNetworks)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("trusted networks: %w", err)
	}
	proxies, err := paymentwebhook.ParseNetworks(cfg.TrustedProxies)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret is not set, all webhook deliveries will be rejected")
	}

	if cfg.BotToken != "" {
		bot, err := telegram.NewBot(cfg.BotToken, cfg.PollTimeout, payments, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.bot = bot
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg.HTTPServer, Deps{
		Payments: payments,
		Manager:  manager,
		Tokens:   jwt.NewJWTMaker(cfg.JWTSecretKey, tokenTTL),
		Verifier: paymentwebhook.NewVerifier(cfg.WebhookSecret, cfg.SignatureTolerance),
		DB:       db,
		Allowed:  allowed,
		Proxies:  proxies,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run обслуживает запросы до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	if a.bot != nil {
		go a.bot.Start(ctx)
	}

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", sl.Err(err))
		}
	}
}
