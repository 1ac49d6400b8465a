// Package notifier собирает процесс доставки уведомлений в Telegram.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
	tele "gopkg.in/telebot.v3"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	senderservice "github.com/magabrotheeeer/vpn-provisioner/internal/services/sender"
)

// App читает очереди уведомлений и отправляет сообщения.
type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	sender *senderservice.Service
	logger *slog.Logger
}

// New создаёт приложение. Бот здесь только отправляет сообщения, обновления
// принимает provisioner.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is not set")
	}
	if len(cfg.AdminIDs) == 0 {
		logger.Warn("admin ids are not set, attention notifications will be dropped")
	}

	bot, err := tele.NewBot(tele.Settings{Token: cfg.BotToken})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("failed to close connection", sl.Err(cerr))
		}
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	return &App{
		conn:   conn,
		ch:     ch,
		sender: senderservice.NewService(bot, cfg.AdminIDs, logger),
		logger: logger,
	}, nil
}

// Run запускает потребителей и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueUser, a.logger, a.sender.HandleUser)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.QueueUser), sl.Err(err))
		return err
	}
	err = rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueAttention, a.logger, a.sender.HandleAttention)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.QueueAttention), sl.Err(err))
		return err
	}

	<-ctx.Done()
	a.logger.Info("notifier shutting down gracefully")
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
}
