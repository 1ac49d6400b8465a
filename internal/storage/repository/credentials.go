package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

const credentialColumns = `s.id, s.user_id, s.server_id, s.xui_user_uuid, s.expires_at, s.is_active, s.reminded_at`

func scanCredential(row rowScanner, extra ...any) (*models.Credential, error) {
	var c models.Credential
	dest := append([]any{&c.ID, &c.UserID, &c.ServerID, &c.CredentialID, &c.ExpiresAt, &c.IsActive, &c.RemindedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCredential возвращает ключ пользователя на панели и блокирует строку.
func (s *Storage) GetCredential(ctx context.Context, userID, serverID int64) (*models.Credential, error) {
	const op = "storage.GetCredential"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + credentialColumns + ` FROM subscriptions s
			  WHERE s.user_id = $1 AND s.server_id = $2 FOR UPDATE`
	c, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query, userID, serverID))
	if err != nil {
		return nil, notFound(op, err)
	}
	return c, nil
}

// CreateCredential сохраняет новый ключ. Повторная запись для той же пары
// пользователь/панель возвращает models.ErrConflict.
func (s *Storage) CreateCredential(ctx context.Context, c *models.Credential) (int64, error) {
	const op = "storage.CreateCredential"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	query := `INSERT INTO subscriptions (user_id, server_id, xui_user_uuid, expires_at, is_active)
			  VALUES ($1, $2, $3, $4, TRUE)
			  RETURNING id`
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, query, c.UserID, c.ServerID, c.CredentialID, c.ExpiresAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", op, models.ErrConflict)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// UpdateCredentialExpiry записывает новый срок, активирует ключ и сбрасывает отметку напоминания.
func (s *Storage) UpdateCredentialExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	return s.execOne(ctx, "storage.UpdateCredentialExpiry",
		`UPDATE subscriptions SET expires_at = $2, is_active = TRUE, reminded_at = NULL WHERE id = $1`,
		id, expiresAt)
}

// DeleteCredential удаляет запись о ключе.
func (s *Storage) DeleteCredential(ctx context.Context, id int64) error {
	return s.execOne(ctx, "storage.DeleteCredential", `DELETE FROM subscriptions WHERE id = $1`, id)
}

// LockExpiredCredential блокирует ключ, если он всё ещё активен и истёк к now.
// Продлённый или уже отключённый ключ даёт models.ErrNotFound.
func (s *Storage) LockExpiredCredential(ctx context.Context, id int64, now time.Time) (*models.Credential, error) {
	const op = "storage.LockExpiredCredential"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + credentialColumns + ` FROM subscriptions s
			  WHERE s.id = $1 AND s.is_active AND s.expires_at < $2 FOR UPDATE`
	c, err := scanCredential(s.conn(ctx).QueryRowContext(ctx, query, id, now))
	if err != nil {
		return nil, notFound(op, err)
	}
	return c, nil
}

// DeactivateCredential помечает истёкший ключ неактивным.
func (s *Storage) DeactivateCredential(ctx context.Context, id int64, now time.Time) error {
	return s.execOne(ctx, "storage.DeactivateCredential",
		`UPDATE subscriptions SET is_active = FALSE
		 WHERE id = $1 AND is_active AND expires_at < $2`, id, now)
}

// MarkReminded фиксирует отправку напоминания.
func (s *Storage) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	return s.execOne(ctx, "storage.MarkReminded",
		`UPDATE subscriptions SET reminded_at = $2 WHERE id = $1`, id, at)
}

// ListExpiringCredentials возвращает активные ключи со сроком в [from, to), по которым
// напоминание для текущего срока ещё не отправлялось.
func (s *Storage) ListExpiringCredentials(ctx context.Context, from, to time.Time, lookahead time.Duration) ([]models.ExpiringCredential, error) {
	query := `SELECT ` + credentialColumns + `, sv.name
			  FROM subscriptions s
			  JOIN servers sv ON sv.id = s.server_id
			  WHERE s.is_active AND s.expires_at >= $1 AND s.expires_at < $2
			    AND (s.reminded_at IS NULL OR s.reminded_at < s.expires_at - make_interval(secs => $3))
			  ORDER BY s.expires_at`
	return s.listExpiring(ctx, "storage.ListExpiringCredentials", query, from, to, lookahead.Seconds())
}

// ListExpiredCredentials возвращает активные ключи со сроком раньше now.
func (s *Storage) ListExpiredCredentials(ctx context.Context, now time.Time) ([]models.ExpiringCredential, error) {
	query := `SELECT ` + credentialColumns + `, sv.name
			  FROM subscriptions s
			  JOIN servers sv ON sv.id = s.server_id
			  WHERE s.is_active AND s.expires_at < $1
			  ORDER BY s.expires_at`
	return s.listExpiring(ctx, "storage.ListExpiredCredentials", query, now)
}

func (s *Storage) listExpiring(ctx context.Context, op, query string, args ...any) ([]models.ExpiringCredential, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var res []models.ExpiringCredential
	for rows.Next() {
		var panelName string
		c, err := scanCredential(rows, &panelName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, models.ExpiringCredential{Credential: *c, PanelName: panelName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
