// Package telegram принимает оплату звёздами Telegram: подтверждает
// pre-checkout и записывает успешные платежи.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/payload"
)

// StarsCurrency код валюты звёзд.
const StarsCurrency = "XTR"

// Payments сценарии оплаты звёздами.
type Payments interface {
	ValidateStarsPayload(ctx context.Context, raw string) (payload.Token, error)
	RecordStarsPayment(ctx context.Context, raw, chargeID string, amount int64) error
}

// Bot обёртка над telebot с обработчиками платежей.
type Bot struct {
	bot      *tele.Bot
	payments Payments
	log      *slog.Logger
	timeout  time.Duration
}

// NewBot создаёт бота с long polling.
func NewBot(token string, pollTimeout time.Duration, payments Payments, log *slog.Logger) (*Bot, error) {
	const op = "telegram.NewBot"

	b := &Bot{payments: payments, log: log, timeout: 30 * time.Second}
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error("telegram handler error", sl.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b.bot = bot

	bot.Handle(tele.OnCheckout, b.handlePreCheckout)
	bot.Handle(tele.OnPayment, b.handleSuccessfulPayment)
	return b, nil
}

// Tele возвращает клиент Telegram для отправки сообщений.
func (b *Bot) Tele() *tele.Bot {
	return b.bot
}

// Start принимает обновления до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.log.Info("telegram polling started")
	b.bot.Start()
}

func (b *Bot) handlePreCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var senderID int64
	if q.Sender != nil {
		senderID = q.Sender.ID
	}
	if reason := b.checkout(ctx, senderID, q.Currency, q.Payload); reason != "" {
		return c.Accept(reason)
	}
	return c.Accept()
}

// checkout возвращает текст отказа или пустую строку, если оплату можно принять.
func (b *Bot) checkout(ctx context.Context, senderID int64, currency, raw string) string {
	log := b.log.With(slog.String("op", "telegram.checkout"), sl.User(senderID))

	if currency != StarsCurrency {
		log.Warn("unexpected checkout currency", slog.String("currency", currency))
		return "Неподдерживаемая валюта."
	}
	tok, err := b.payments.ValidateStarsPayload(ctx, raw)
	if err != nil {
		log.Warn("checkout rejected", slog.String("payload", raw), sl.Err(err))
		return "Тариф недоступен. Попробуйте выбрать его заново."
	}
	if tok.UserID != senderID {
		log.Warn("checkout payload belongs to another user", slog.Int64("payload_user", tok.UserID))
		return "Счёт выставлен другому пользователю."
	}
	return ""
}

func (b *Bot) handleSuccessfulPayment(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Payment == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.recordPayment(ctx, msg.Payment); err != nil {
		return c.Send("Оплата получена, но при обработке возникла ошибка. Мы уже разбираемся.")
	}
	return nil
}

func (b *Bot) recordPayment(ctx context.Context, p *tele.Payment) error {
	log := b.log.With(slog.String("op", "telegram.recordPayment"), slog.String("charge_id", p.TelegramChargeID))

	if p.Currency != StarsCurrency {
		log.Warn("ignoring non-stars payment", slog.String("currency", p.Currency))
		return nil
	}
	err := b.payments.RecordStarsPayment(ctx, p.Payload, p.TelegramChargeID, int64(p.Total))
	if errors.Is(err, payload.ErrPayloadMalformed) {
		// деньги списаны, а payload не наш: только ручной разбор
		log.Error("paid invoice with malformed payload", slog.String("payload", p.Payload), sl.Err(err))
		return err
	}
	if err != nil {
		log.Error("failed to record stars payment", sl.Err(err))
		return err
	}
	log.Info("stars payment recorded", slog.Int("total", p.Total))
	return nil
}
