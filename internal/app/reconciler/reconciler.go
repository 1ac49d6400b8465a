// Package reconciler собирает процесс ежедневной сверки сроков действия ключей.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/app/provisioner"
	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	schedulerservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/scheduler"
	"github.com/magabrotheeeer/vpn-provisioner/internal/storage/repository"
)

// App планировщик напоминаний и отключений.
type App struct {
	reconciler *schedulerservice.Reconciler
	db         *repository.Storage
	cache      *cache.Cache
	conn       *amqp.Connection
	ch         *amqp.Channel
	logger     *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.conn = conn

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	a.ch = ch

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.db = db
	if err := provisioner.WaitForDB(ctx, db, 10, 3*time.Second); err != nil {
		a.close()
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}
	a.cache = cacheRedis

	registry, err := provisioner.NewRegistry(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.reconciler = schedulerservice.New(
		db,
		schedulerservice.RegistryClients(registry),
		rabbitmq.NewPublisher(ch),
		cacheRedis,
		schedulerservice.Settings{
			ReminderSpec:     cfg.ReminderSpec,
			DeactivationSpec: cfg.DeactivationSpec,
			Lookahead:        cfg.Lookahead,
			Window:           cfg.Window,
			Workers:          cfg.Workers,
			LockTTL:          cfg.LockTTL,
		},
		logger,
	)
	return a, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := a.reconciler.Start(ctx)
	a.logger.Info("shutting down reconciler")
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
