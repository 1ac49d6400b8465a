package subscription

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/panel"
)

type RepoMock struct{ mock.Mock }

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
func (m *RepoMock) GetPanel(ctx context.Context, id int64) (*models.Panel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Panel), args.Error(1)
}
func (m *RepoMock) GetCredential(ctx context.Context, userID, serverID int64) (*models.Credential, error) {
	args := m.Called(ctx, userID, serverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}
func (m *RepoMock) CreateCredential(ctx context.Context, c *models.Credential) (int64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) UpdateCredentialExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	return m.Called(ctx, id, expiresAt).Error(0)
}
func (m *RepoMock) DeleteCredential(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *RepoMock) MarkActivated(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) AddBonusDays(ctx context.Context, id int64, days int) error {
	return m.Called(ctx, id, days).Error(0)
}
func (m *RepoMock) MarkTrialUsed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *RepoMock) TakeUnassignedDays(ctx context.Context, id int64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type PanelMock struct{ mock.Mock }

func (m *PanelMock) GetProfile(ctx context.Context, inboundID int) (*panel.Profile, error) {
	args := m.Called(ctx, inboundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*panel.Profile), args.Error(1)
}
func (m *PanelMock) AddCredential(ctx context.Context, inboundID int, credentialID, ownerLabel string, expiry time.Time, trafficCapBytes int64) error {
	return m.Called(ctx, inboundID, credentialID, ownerLabel, expiry, trafficCapBytes).Error(0)
}
func (m *PanelMock) ExtendCredential(ctx context.Context, inboundID int, credentialID string, newExpiry time.Time, newTrafficCapBytes *int64) error {
	return m.Called(ctx, inboundID, credentialID, newExpiry, newTrafficCapBytes).Error(0)
}
func (m *PanelMock) DeleteCredential(ctx context.Context, inboundID int, credentialID string) error {
	return m.Called(ctx, inboundID, credentialID).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}
func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}
func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}
