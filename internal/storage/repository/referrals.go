package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// SetReferralCode сохраняет реферальный код, если у пользователя его ещё нет,
// и возвращает действующий код. Занятый код даёт models.ErrConflict.
func (s *Storage) SetReferralCode(ctx context.Context, telegramID int64, code string) (string, error) {
	const op = "storage.SetReferralCode"
	if err := checkCtx(ctx, op); err != nil {
		return "", err
	}

	query := `UPDATE users SET referral_code = COALESCE(referral_code, $2)
			  WHERE telegram_id = $1
			  RETURNING referral_code`
	var got string
	if err := s.conn(ctx).QueryRowContext(ctx, query, telegramID, code).Scan(&got); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s: %w", op, models.ErrConflict)
		}
		return "", notFound(op, err)
	}
	return got, nil
}

// GetUserByReferralCode ищет владельца реферального кода.
func (s *Storage) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	const op = "storage.GetUserByReferralCode"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	u, err := scanUser(s.conn(ctx).QueryRowContext(ctx, query, code))
	if err != nil {
		return nil, notFound(op, err)
	}
	return u, nil
}

// BindReferrer привязывает пригласившего и начисляет приглашённому bonus на
// реферальный баланс. Возвращает false, если пригласивший уже задан или
// совпадает с самим пользователем.
func (s *Storage) BindReferrer(ctx context.Context, telegramID, referrerID, bonus int64) (bool, error) {
	const op = "storage.BindReferrer"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE users
			  SET referrer_id = $2, referral_balance = referral_balance + $3
			  WHERE telegram_id = $1 AND referrer_id IS NULL AND telegram_id <> $2`
	res, err := s.conn(ctx).ExecContext(ctx, query, telegramID, referrerID, bonus)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}
