package scheduler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) ListExpiringCredentials(ctx context.Context, from, to time.Time, lookahead time.Duration) ([]models.ExpiringCredential, error) {
	args := m.Called(ctx, from, to, lookahead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ExpiringCredential), args.Error(1)
}
func (m *RepoMock) ListExpiredCredentials(ctx context.Context, now time.Time) ([]models.ExpiringCredential, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ExpiringCredential), args.Error(1)
}
func (m *RepoMock) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}
func (m *RepoMock) LockExpiredCredential(ctx context.Context, id int64, now time.Time) (*models.Credential, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}
func (m *RepoMock) DeactivateCredential(ctx context.Context, id int64, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}
func (m *RepoMock) GetPanel(ctx context.Context, id int64) (*models.Panel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Panel), args.Error(1)
}
func (m *RepoMock) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type PanelMock struct{ mock.Mock }

func (m *PanelMock) DeleteCredential(ctx context.Context, inboundID int, credentialID string) error {
	return m.Called(ctx, inboundID, credentialID).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(ctx context.Context, n models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type LockerMock struct{ mock.Mock }

func (m *LockerMock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *LockerMock) Unlock(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}
