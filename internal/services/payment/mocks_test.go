package payment

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/paymentprovider"
)

type RepoMock struct {
	mock.Mock
	order []string
}

func (m *RepoMock) record(name string) {
	m.order = append(m.order, name)
}

func (m *RepoMock) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (m *RepoMock) WithinSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	m.record("Savepoint")
	return fn(ctx)
}
func (m *RepoMock) CreatePaymentEvent(ctx context.Context, p *models.PaymentEvent) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) GetPaymentEventForUpdate(ctx context.Context, id string) (*models.PaymentEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentEvent), args.Error(1)
}
func (m *RepoMock) UpdatePaymentEventStatus(ctx context.Context, id, status string, needsAttention bool) error {
	m.record("UpdatePaymentEventStatus")
	return m.Called(ctx, id, status, needsAttention).Error(0)
}
func (m *RepoMock) CreateUser(ctx context.Context, id int64, referrerID *int64) error {
	return m.Called(ctx, id, referrerID).Error(0)
}
func (m *RepoMock) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) GetUserForUpdate(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) GetTariff(ctx context.Context, id int64) (*models.Tariff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tariff), args.Error(1)
}
func (m *RepoMock) AddUnassignedDays(ctx context.Context, id int64, days int) error {
	m.record("AddUnassignedDays")
	return m.Called(ctx, id, days).Error(0)
}
func (m *RepoMock) AddReferralBalance(ctx context.Context, id int64, amount int64) error {
	m.record("AddReferralBalance")
	return m.Called(ctx, id, amount).Error(0)
}
func (m *RepoMock) AddL2ReferralBalance(ctx context.Context, id int64, amount int64) error {
	m.record("AddL2ReferralBalance")
	return m.Called(ctx, id, amount).Error(0)
}
func (m *RepoMock) DebitBalances(ctx context.Context, id int64, fromL1, fromL2 int64) error {
	return m.Called(ctx, id, fromL1, fromL2).Error(0)
}
func (m *RepoMock) CreateGiftCode(ctx context.Context, g *models.GiftCode) error {
	return m.Called(ctx, g).Error(0)
}
func (m *RepoMock) RedeemGiftCode(ctx context.Context, code string, userID int64, at time.Time) (*models.GiftCode, error) {
	args := m.Called(ctx, code, userID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GiftCode), args.Error(1)
}

func (m *RepoMock) SetReferralCode(ctx context.Context, id int64, code string) (string, error) {
	args := m.Called(ctx, id, code)
	if fn, ok := args.Get(0).(func(string) string); ok {
		return fn(code), args.Error(1)
	}
	return args.String(0), args.Error(1)
}
func (m *RepoMock) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) BindReferrer(ctx context.Context, id, referrerID, bonus int64) (bool, error) {
	m.record("BindReferrer")
	args := m.Called(ctx, id, referrerID, bonus)
	return args.Bool(0), args.Error(1)
}

type GranterMock struct{ mock.Mock }

func (m *GranterMock) Grant(ctx context.Context, userID, serverID int64, days int, isTrial bool) (*models.Grant, error) {
	args := m.Called(ctx, userID, serverID, days, isTrial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Grant), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, n models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type CheckoutMock struct{ mock.Mock }

func (m *CheckoutMock) Configured() bool {
	return m.Called().Bool(0)
}
func (m *CheckoutMock) ReturnURL() string {
	return m.Called().String(0)
}
func (m *CheckoutMock) CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest, key string) (*paymentprovider.CreatePaymentResponse, error) {
	args := m.Called(ctx, req, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.CreatePaymentResponse), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}
