// Package payment обрабатывает платёжные события: выдаёт доступ или дни,
// начисляет реферальные комиссии и выпускает подарочные коды.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/metrics"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// Repository операции хранилища для обработки платежей.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinSavepoint(ctx context.Context, fn func(ctx context.Context) error) error

	CreatePaymentEvent(ctx context.Context, p *models.PaymentEvent) (bool, error)
	GetPaymentEventForUpdate(ctx context.Context, id string) (*models.PaymentEvent, error)
	UpdatePaymentEventStatus(ctx context.Context, id, status string, needsAttention bool) error

	CreateUser(ctx context.Context, telegramID int64, referrerID *int64) error
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserForUpdate(ctx context.Context, telegramID int64) (*models.User, error)
	GetTariff(ctx context.Context, id int64) (*models.Tariff, error)

	AddUnassignedDays(ctx context.Context, telegramID int64, days int) error
	AddReferralBalance(ctx context.Context, telegramID int64, amount int64) error
	AddL2ReferralBalance(ctx context.Context, telegramID int64, amount int64) error
	DebitBalances(ctx context.Context, telegramID int64, fromL1, fromL2 int64) error

	CreateGiftCode(ctx context.Context, g *models.GiftCode) error
	RedeemGiftCode(ctx context.Context, code string, userID int64, at time.Time) (*models.GiftCode, error)

	SetReferralCode(ctx context.Context, telegramID int64, code string) (string, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	BindReferrer(ctx context.Context, telegramID, referrerID, bonus int64) (bool, error)
}

// Granter выдаёт доступ на панели.
type Granter interface {
	Grant(ctx context.Context, userID, serverID int64, days int, isTrial bool) (*models.Grant, error)
}

// Notifier доставляет уведомления.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Commission проценты реферальных начислений.
type Commission struct {
	L1Percent int64
	L2Percent int64
}

// Processor применяет платёжные события.
type Processor struct {
	repo       Repository
	granter    Granter
	notifier   Notifier
	commission Commission
	log        *slog.Logger
	now        func() time.Time
}

// NewProcessor создаёт Processor.
func NewProcessor(repo Repository, granter Granter, notifier Notifier, commission Commission, log *slog.Logger) *Processor {
	return &Processor{
		repo:       repo,
		granter:    granter,
		notifier:   notifier,
		commission: commission,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle переводит событие eventID в статус newStatus и применяет последствия.
// Повторная доставка уже обработанного события ничего не меняет.
func (p *Processor) Handle(ctx context.Context, eventID, newStatus string) error {
	const op = "payment.Handle"
	log := p.log.With(slog.String("op", op), slog.String("payment_id", eventID), slog.String("status", newStatus))

	if newStatus != models.PaymentStatusSucceeded && newStatus != models.PaymentStatusCanceled {
		return fmt.Errorf("%s: unsupported status %q", op, newStatus)
	}

	var notes []models.Notification
	var action string
	err := p.repo.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		notes, action, err = p.apply(ctx, log, eventID, newStatus)
		return err
	})
	if err != nil {
		metrics.PaymentEvents.WithLabelValues("error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	p.finish(ctx, log, action, notes)
	return nil
}

// apply выполняет обработку события в транзакции из ctx. Уведомления
// возвращаются вызывающему для отправки после коммита.
func (p *Processor) apply(ctx context.Context, log *slog.Logger, eventID, newStatus string) ([]models.Notification, string, error) {
	ev, err := p.repo.GetPaymentEventForUpdate(ctx, eventID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, "unknown", nil
	}
	if err != nil {
		return nil, "", err
	}
	if ev.IsTerminal() {
		return nil, "duplicate", nil
	}

	if newStatus == models.PaymentStatusCanceled {
		err = p.repo.UpdatePaymentEventStatus(ctx, ev.ID, models.PaymentStatusCanceled, false)
		return nil, newStatus, err
	}

	notes, err := p.succeed(ctx, log, ev)
	if err != nil {
		return nil, "", err
	}
	return notes, newStatus, nil
}

func (p *Processor) finish(ctx context.Context, log *slog.Logger, action string, notes []models.Notification) {
	metrics.PaymentEvents.WithLabelValues(action).Inc()
	switch action {
	case "unknown":
		log.Warn("payment event not found, ignoring")
	case "duplicate":
		log.Info("payment event already processed")
	default:
		log.Info("payment event applied", slog.Int("notifications", len(notes)))
	}
	p.publish(ctx, notes)
}

func (p *Processor) succeed(ctx context.Context, log *slog.Logger, ev *models.PaymentEvent) ([]models.Notification, error) {
	tariff, err := p.repo.GetTariff(ctx, ev.TariffID)
	if err != nil {
		return nil, err
	}
	user, err := p.repo.GetUser(ctx, ev.UserID)
	if err != nil {
		return nil, err
	}

	var notes []models.Notification
	needsAttention := false

	switch {
	case ev.PaymentType == models.PaymentTypeGift:
		code, err := p.mintGift(ctx, ev.UserID, tariff.ID)
		if err != nil {
			return nil, err
		}
		notes = append(notes, models.Notification{
			Kind: models.NotificationGiftPurchased, UserID: ev.UserID, GiftCode: code, Days: tariff.DurationDays,
		})

	case ev.ServerID != nil:
		var grant *models.Grant
		err := p.repo.WithinSavepoint(ctx, func(ctx context.Context) error {
			var err error
			grant, err = p.granter.Grant(ctx, ev.UserID, *ev.ServerID, tariff.DurationDays, false)
			return err
		})
		if err != nil {
			log.Error("grant failed, reserving days", sl.User(ev.UserID), sl.Panel(*ev.ServerID), sl.Err(err))
			if err := p.repo.AddUnassignedDays(ctx, ev.UserID, tariff.DurationDays); err != nil {
				return nil, err
			}
			needsAttention = true
			notes = append(notes,
				models.Notification{
					Kind: models.NotificationDaysReserved, UserID: ev.UserID, Days: tariff.DurationDays,
					Reason: "provisioning_failed",
				},
				models.Notification{
					Kind: models.NotificationAttention, UserID: ev.UserID, PaymentID: ev.ID, Reason: err.Error(),
				})
			break
		}
		expires := grant.ExpiresAt
		notes = append(notes, models.Notification{
			Kind: models.NotificationKeyIssued, UserID: ev.UserID, URI: grant.URI, ExpiresAt: &expires,
			Days: tariff.DurationDays,
		})

	default:
		if err := p.repo.AddUnassignedDays(ctx, ev.UserID, tariff.DurationDays); err != nil {
			return nil, err
		}
		notes = append(notes, models.Notification{
			Kind: models.NotificationDaysReserved, UserID: ev.UserID, Days: tariff.DurationDays,
		})
	}

	if ev.IsDirect() {
		if err := p.payCommission(ctx, log, user, tariff.PriceRub); err != nil {
			return nil, err
		}
	}

	if err := p.repo.UpdatePaymentEventStatus(ctx, ev.ID, models.PaymentStatusSucceeded, needsAttention); err != nil {
		return nil, err
	}
	return notes, nil
}

// payCommission начисляет комиссии пригласившему (L1) и его пригласившему (L2).
func (p *Processor) payCommission(ctx context.Context, log *slog.Logger, buyer *models.User, price int64) error {
	if buyer.ReferrerID == nil {
		return nil
	}
	r1, err := p.repo.GetUser(ctx, *buyer.ReferrerID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if l1 := Percent(price, p.commission.L1Percent); l1 > 0 {
		if err := p.repo.AddReferralBalance(ctx, r1.TelegramID, l1); err != nil {
			return err
		}
		log.Info("l1 commission credited", slog.Int64("referrer_id", r1.TelegramID), slog.Int64("amount", l1))
	}

	if r1.ReferrerID == nil {
		return nil
	}
	if l2 := Percent(price, p.commission.L2Percent); l2 > 0 {
		err := p.repo.AddL2ReferralBalance(ctx, *r1.ReferrerID, l2)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("l2 commission credited", slog.Int64("referrer_id", *r1.ReferrerID), slog.Int64("amount", l2))
	}
	return nil
}

// Percent возвращает percent процентов от amount с округлением вниз.
func Percent(amount, percent int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(percent)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

func (p *Processor) mintGift(ctx context.Context, buyerID, tariffID int64) (string, error) {
	for range codeAttempts {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		err = p.repo.CreateGiftCode(ctx, &models.GiftCode{Code: code, TariffID: tariffID, BuyerUserID: buyerID})
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", fmt.Errorf("gift code collision after %d attempts", codeAttempts)
}

func (p *Processor) publish(ctx context.Context, notes []models.Notification) {
	if p.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := p.notifier.Notify(ctx, n); err != nil {
			p.log.Error("failed to publish notification",
				slog.String("kind", n.Kind), sl.User(n.UserID), sl.Err(err))
		}
	}
}
