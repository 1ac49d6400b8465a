package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/payload"
	"github.com/magabrotheeeer/vpn-provisioner/internal/paymentprovider"
)

// ErrCheckoutUnavailable оплата картой не настроена.
var ErrCheckoutUnavailable = errors.New("checkout is not configured")

// ErrInvalidPurchase покупка с несовместимыми параметрами.
var ErrInvalidPurchase = errors.New("invalid purchase")

// Checkout создаёт платёж у провайдера.
type Checkout interface {
	Configured() bool
	ReturnURL() string
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest, idempotenceKey string) (*paymentprovider.CreatePaymentResponse, error)
}

// Service сценарии оплаты: карта, Telegram Stars, реферальный баланс и подарки.
type Service struct {
	repo      Repository
	processor *Processor
	checkout  Checkout
	referral  Referral
	log       *slog.Logger
}

// NewService создаёт Service.
func NewService(repo Repository, processor *Processor, checkout Checkout, referral Referral, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		processor: processor,
		checkout:  checkout,
		referral:  referral,
		log:       log,
	}
}

// Handle пробрасывает событие в Processor.
func (s *Service) Handle(ctx context.Context, eventID, newStatus string) error {
	return s.processor.Handle(ctx, eventID, newStatus)
}

// CheckoutResult результат создания платежа.
type CheckoutResult struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
	Amount          int64  `json:"amount"`
}

func (s *Service) activeTariff(ctx context.Context, id int64) (*models.Tariff, error) {
	t, err := s.repo.GetTariff(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, models.ErrNotFound
	}
	return t, nil
}

func validateKind(kind string, serverID *int64) error {
	switch kind {
	case models.PaymentTypeSubscription:
		return nil
	case models.PaymentTypeGift:
		if serverID != nil {
			return fmt.Errorf("%w: gift purchase cannot target a panel", ErrInvalidPurchase)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown payment type %q", ErrInvalidPurchase, kind)
	}
}

// CreateCheckout создаёт платёж ЮKassa на тариф и сохраняет его как pending.
func (s *Service) CreateCheckout(ctx context.Context, userID, tariffID int64, serverID *int64, kind string) (*CheckoutResult, error) {
	const op = "payment.CreateCheckout"

	if s.checkout == nil || !s.checkout.Configured() {
		return nil, fmt.Errorf("%s: %w", op, ErrCheckoutUnavailable)
	}
	if err := validateKind(kind, serverID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tariff, err := s.activeTariff(ctx, tariffID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = s.repo.CreateUser(ctx, userID, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metadata := map[string]string{
		"telegram_user_id": strconv.FormatInt(userID, 10),
		"tariff_id":        strconv.FormatInt(tariffID, 10),
		"payment_type":     kind,
	}
	if serverID != nil {
		metadata["server_id"] = strconv.FormatInt(*serverID, 10)
	}
	description := fmt.Sprintf("Оплата тарифа '%s'", tariff.Name)
	if kind == models.PaymentTypeGift {
		description = fmt.Sprintf("Покупка подарочного кода для тарифа '%s'", tariff.Name)
	}

	resp, err := s.checkout.CreatePayment(ctx, paymentprovider.CreatePaymentRequest{
		Amount:       paymentprovider.AmountFromKopecks(tariff.PriceRub, "RUB"),
		Confirmation: paymentprovider.Confirmation{Type: "redirect", ReturnURL: s.checkout.ReturnURL()},
		Capture:      true,
		Description:  description,
		Metadata:     metadata,
	}, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	details, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.repo.CreatePaymentEvent(ctx, &models.PaymentEvent{
		ID:            resp.ID,
		UserID:        userID,
		TariffID:      tariffID,
		ServerID:      serverID,
		Amount:        tariff.PriceRub,
		Currency:      "RUB",
		PaymentSystem: models.PaymentSystemYooKassa,
		PaymentType:   kind,
		Details:       details,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("checkout created", sl.User(userID), slog.String("payment_id", resp.ID), slog.String("type", kind))
	return &CheckoutResult{PaymentID: resp.ID, ConfirmationURL: resp.Confirmation.ConfirmationURL, Amount: tariff.PriceRub}, nil
}

// ValidateStarsPayload проверяет payload счёта Stars перед подтверждением оплаты.
func (s *Service) ValidateStarsPayload(ctx context.Context, raw string) (payload.Token, error) {
	const op = "payment.ValidateStarsPayload"

	tok, err := payload.Parse(raw)
	if err != nil {
		return payload.Token{}, fmt.Errorf("%s: %w", op, err)
	}
	if _, err = s.activeTariff(ctx, tok.TariffID); err != nil {
		return payload.Token{}, fmt.Errorf("%s: %w", op, err)
	}
	return tok, nil
}

// RecordStarsPayment сохраняет оплату звёздами под ID платежа Telegram и обрабатывает её.
func (s *Service) RecordStarsPayment(ctx context.Context, raw, chargeID string, amount int64) error {
	const op = "payment.RecordStarsPayment"

	tok, err := payload.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if chargeID == "" {
		return fmt.Errorf("%s: empty charge id", op)
	}
	if err = s.repo.CreateUser(ctx, tok.UserID, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	kind := models.PaymentTypeSubscription
	if tok.IsGift() {
		kind = models.PaymentTypeGift
	}
	details, err := json.Marshal(map[string]string{"payload": raw})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	created, err := s.repo.CreatePaymentEvent(ctx, &models.PaymentEvent{
		ID:            chargeID,
		UserID:        tok.UserID,
		TariffID:      tok.TariffID,
		ServerID:      tok.ServerID,
		Amount:        amount,
		Currency:      "XTR",
		PaymentSystem: models.PaymentSystemStars,
		PaymentType:   kind,
		Details:       details,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		s.log.Info("stars payment already recorded", slog.String("payment_id", chargeID))
	}

	if err = s.processor.Handle(ctx, chargeID, models.PaymentStatusSucceeded); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PayFromBalance оплачивает тариф с реферального баланса: сначала первый
// уровень, остаток со второго. Комиссия с такой покупки не начисляется.
func (s *Service) PayFromBalance(ctx context.Context, userID, tariffID int64, serverID *int64) (string, error) {
	const op = "payment.PayFromBalance"
	log := s.log.With(slog.String("op", op), sl.User(userID))

	eventID := "balance-" + uuid.NewString()
	var notes []models.Notification
	var action string
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		tariff, err := s.activeTariff(ctx, tariffID)
		if err != nil {
			return err
		}
		price := tariff.PriceRub
		if user.TotalBalance() < price {
			return models.ErrInsufficientBalance
		}
		fromL1 := min(user.ReferralBalance, price)
		if err = s.repo.DebitBalances(ctx, userID, fromL1, price-fromL1); err != nil {
			return err
		}

		_, err = s.repo.CreatePaymentEvent(ctx, &models.PaymentEvent{
			ID:            eventID,
			UserID:        userID,
			TariffID:      tariffID,
			ServerID:      serverID,
			Amount:        price,
			Currency:      "RUB",
			PaymentSystem: models.PaymentSystemReferralBalance,
			PaymentType:   models.PaymentTypeSubscription,
		})
		if err != nil {
			return err
		}
		notes, action, err = s.processor.apply(ctx, log, eventID, models.PaymentStatusSucceeded)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.processor.finish(ctx, log, action, notes)
	return eventID, nil
}

// RedeemGift активирует подарочный код: дни тарифа зачисляются в нераспределённые.
func (s *Service) RedeemGift(ctx context.Context, code string, userID int64) (int, error) {
	const op = "payment.RedeemGift"

	code = strings.ToUpper(strings.TrimSpace(code))
	var days int
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateUser(ctx, userID, nil); err != nil {
			return err
		}
		gift, err := s.repo.RedeemGiftCode(ctx, code, userID, s.processor.now())
		if err != nil {
			return err
		}
		tariff, err := s.repo.GetTariff(ctx, gift.TariffID)
		if err != nil {
			return err
		}
		days = tariff.DurationDays
		return s.repo.AddUnassignedDays(ctx, userID, days)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("gift redeemed", sl.User(userID), slog.Int("days", days))
	s.processor.publish(ctx, []models.Notification{{
		Kind: models.NotificationDaysReserved, UserID: userID, Days: days, Reason: "gift",
	}})
	return days, nil
}
