// Package subscription выдаёт и продлевает ключи доступа на панелях 3x-ui.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/metrics"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/panel"
)

// Repository операции хранилища, нужные для выдачи доступа.
type Repository interface {
	GetUser(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserForUpdate(ctx context.Context, telegramID int64) (*models.User, error)
	GetPanel(ctx context.Context, id int64) (*models.Panel, error)
	GetCredential(ctx context.Context, userID, serverID int64) (*models.Credential, error)
	CreateCredential(ctx context.Context, c *models.Credential) (int64, error)
	UpdateCredentialExpiry(ctx context.Context, id int64, expiresAt time.Time) error
	DeleteCredential(ctx context.Context, id int64) error
	MarkActivated(ctx context.Context, telegramID int64) (bool, error)
	AddBonusDays(ctx context.Context, telegramID int64, days int) error
	MarkTrialUsed(ctx context.Context, telegramID int64) error
	TakeUnassignedDays(ctx context.Context, telegramID int64) (int, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PanelClient операции панели, которые использует выдача.
type PanelClient interface {
	GetProfile(ctx context.Context, inboundID int) (*panel.Profile, error)
	AddCredential(ctx context.Context, inboundID int, credentialID, ownerLabel string, expiry time.Time, trafficCapBytes int64) error
	ExtendCredential(ctx context.Context, inboundID int, credentialID string, newExpiry time.Time, newTrafficCapBytes *int64) error
	DeleteCredential(ctx context.Context, inboundID int, credentialID string) error
}

// ClientFactory возвращает клиент для панели.
type ClientFactory func(p *models.Panel) (PanelClient, error)

// RegistryClients адаптирует panel.Registry к ClientFactory.
func RegistryClients(r *panel.Registry) ClientFactory {
	return func(p *models.Panel) (PanelClient, error) {
		c, err := r.Client(p)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Cache кеш профилей инбаундов.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Settings параметры выдачи.
type Settings struct {
	TrialDays           int
	TrialTrafficCapGB   int64
	ActivationBonusDays int
	ProfileTTL          time.Duration
}

// Manager выдаёт доступ пользователю на конкретной панели.
type Manager struct {
	repo     Repository
	clients  ClientFactory
	cache    Cache
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт Manager. cache может быть nil.
func New(repo Repository, clients ClientFactory, cache Cache, settings Settings, log *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		clients:  clients,
		cache:    cache,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Grant продлевает существующий ключ пользователя на панели на days дней
// или создаёт новый. Транзакцию не открывает: вызывающий код передаёт её через ctx.
func (m *Manager) Grant(ctx context.Context, userID, serverID int64, days int, isTrial bool) (*models.Grant, error) {
	const op = "subscription.Grant"
	log := m.log.With(slog.String("op", op), sl.User(userID), sl.Panel(serverID))

	if days <= 0 {
		return nil, fmt.Errorf("%s: days must be positive, got %d", op, days)
	}

	p, err := m.repo.GetPanel(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPanelUnavailable)
	}

	cred, err := m.repo.GetCredential(ctx, userID, serverID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cred != nil && isTrial {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyProvisioned)
	}

	client, err := m.clients(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profile, err := m.profile(ctx, client, p)
	if err != nil {
		metrics.Grants.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now()
	expiry := now.AddDate(0, 0, days)
	outcome := "created"
	// старый клиент на панели удаляется только после выдачи замены
	var stale *models.Credential

	if cred != nil {
		base := cred.ExpiresAt
		if base.Before(now) {
			base = now
		}
		expiry = base.AddDate(0, 0, days)

		err = client.ExtendCredential(ctx, p.InboundID, cred.CredentialID, expiry, nil)
		if err == nil {
			if err = m.repo.UpdateCredentialExpiry(ctx, cred.ID, expiry); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			metrics.Grants.WithLabelValues("extended").Inc()
			log.Info("credential extended", slog.Time("expires_at", expiry))
			return m.result(p, profile, cred.CredentialID, expiry, false), nil
		}

		// Один переход к созданию нового ключа, повторного продления нет.
		log.Warn("extend failed, issuing new credential", sl.Err(err))
		if !panel.IsNotFound(err) {
			stale = cred
		}
		outcome = "recreated"
	}

	credentialID := uuid.NewString()
	var capBytes int64
	if isTrial {
		capBytes = panel.GBToBytes(m.settings.TrialTrafficCapGB)
	}
	label := panel.Label(p.Name, credentialID)
	if err = client.AddCredential(ctx, p.InboundID, credentialID, label, expiry, capBytes); err != nil {
		metrics.Grants.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cred != nil {
		if err = m.repo.DeleteCredential(ctx, cred.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	_, err = m.repo.CreateCredential(ctx, &models.Credential{
		UserID:       userID,
		ServerID:     serverID,
		CredentialID: credentialID,
		ExpiresAt:    expiry,
		IsActive:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err = m.activateReferral(ctx, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if stale != nil {
		delErr := client.DeleteCredential(ctx, p.InboundID, stale.CredentialID)
		if delErr != nil && !panel.IsNotFound(delErr) {
			log.Warn("failed to remove stale credential from panel",
				slog.String("credential_id", stale.CredentialID), sl.Err(delErr))
		}
	}

	metrics.Grants.WithLabelValues(outcome).Inc()
	log.Info("credential issued", slog.String("outcome", outcome), slog.Time("expires_at", expiry))
	return m.result(p, profile, credentialID, expiry, true), nil
}

// activateReferral начисляет бонус пригласившему при первом ключе приглашённого.
func (m *Manager) activateReferral(ctx context.Context, userID int64) error {
	user, err := m.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.ActivatedFirstVPN {
		return nil
	}
	first, err := m.repo.MarkActivated(ctx, userID)
	if err != nil {
		return err
	}
	if !first || user.ReferrerID == nil || m.settings.ActivationBonusDays <= 0 {
		return nil
	}
	if err = m.repo.AddBonusDays(ctx, *user.ReferrerID, m.settings.ActivationBonusDays); err != nil {
		return err
	}
	m.log.Info("referral activated",
		sl.User(userID),
		slog.Int64("referrer_id", *user.ReferrerID),
		slog.Int("bonus_days", m.settings.ActivationBonusDays))
	return nil
}

func profileKey(serverID int64, inboundID int) string {
	return "panel:" + strconv.FormatInt(serverID, 10) + ":inbound:" + strconv.Itoa(inboundID)
}

func (m *Manager) profile(ctx context.Context, client PanelClient, p *models.Panel) (*panel.Profile, error) {
	key := profileKey(p.ID, p.InboundID)
	if m.cache != nil {
		var cached panel.Profile
		found, err := m.cache.Get(ctx, key, &cached)
		if err != nil {
			m.log.Warn("profile cache read failed", sl.Panel(p.ID), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	profile, err := client.GetProfile(ctx, p.InboundID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, key, profile, m.settings.ProfileTTL); err != nil {
			m.log.Warn("profile cache write failed", sl.Panel(p.ID), sl.Err(err))
		}
	}
	return profile, nil
}

func (m *Manager) result(p *models.Panel, profile *panel.Profile, credentialID string, expiry time.Time, created bool) *models.Grant {
	host, port, err := panel.Host(p.APIURL)
	if err != nil {
		m.log.Error("invalid panel url", sl.Panel(p.ID), sl.Err(err))
	}
	return &models.Grant{
		URI:          panel.BuildURI(profile, host, port, credentialID, panel.Label(p.Name, credentialID)),
		ExpiresAt:    expiry,
		CredentialID: credentialID,
		Created:      created,
	}
}

// StartTrial выдаёт пробный доступ. Пробный период предоставляется один раз.
func (m *Manager) StartTrial(ctx context.Context, userID, serverID int64) (*models.Grant, error) {
	const op = "subscription.StartTrial"

	var grant *models.Grant
	err := m.repo.WithinTx(ctx, func(ctx context.Context) error {
		user, err := m.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.TrialUsed {
			return models.ErrAlreadyProvisioned
		}
		grant, err = m.Grant(ctx, userID, serverID, m.settings.TrialDays, true)
		if err != nil {
			return err
		}
		return m.repo.MarkTrialUsed(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return grant, nil
}

// ActivateUnassigned переносит все нераспределённые дни пользователя на ключ панели.
func (m *Manager) ActivateUnassigned(ctx context.Context, userID, serverID int64) (*models.Grant, error) {
	const op = "subscription.ActivateUnassigned"

	var grant *models.Grant
	err := m.repo.WithinTx(ctx, func(ctx context.Context) error {
		days, err := m.repo.TakeUnassignedDays(ctx, userID)
		if err != nil {
			return err
		}
		if days == 0 {
			return models.ErrNothingToActivate
		}
		grant, err = m.Grant(ctx, userID, serverID, days, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return grant, nil
}
