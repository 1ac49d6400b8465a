package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

const userColumns = `telegram_id, referral_balance, l2_referral_balance, unassigned_days, bonus_days,
	trial_used, activated_first_vpn, referrer_id, referral_code, is_banned, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.TelegramID, &u.ReferralBalance, &u.L2ReferralBalance, &u.UnassignedDays, &u.BonusDays,
		&u.TrialUsed, &u.ActivatedFirstVPN, &u.ReferrerID, &u.ReferralCode, &u.IsBanned, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser регистрирует пользователя, если его ещё нет.
func (s *Storage) CreateUser(ctx context.Context, telegramID int64, referrerID *int64) error {
	const op = "storage.CreateUser"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO users (telegram_id, referrer_id) VALUES ($1, $2)
			  ON CONFLICT (telegram_id) DO NOTHING`
	if _, err := s.conn(ctx).ExecContext(ctx, query, telegramID, referrerID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает пользователя по Telegram ID.
func (s *Storage) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUser"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(s.conn(ctx).QueryRowContext(ctx, query, telegramID))
	if err != nil {
		return nil, notFound(op, err)
	}
	return u, nil
}

// GetUserForUpdate возвращает пользователя с блокировкой строки до конца транзакции.
func (s *Storage) GetUserForUpdate(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserForUpdate"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1 FOR UPDATE`
	u, err := scanUser(s.conn(ctx).QueryRowContext(ctx, query, telegramID))
	if err != nil {
		return nil, notFound(op, err)
	}
	return u, nil
}

func (s *Storage) execOne(ctx context.Context, op, query string, args ...any) error {
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}

// AddUnassignedDays начисляет дни в пул нераспределённых.
func (s *Storage) AddUnassignedDays(ctx context.Context, telegramID int64, days int) error {
	return s.execOne(ctx, "storage.AddUnassignedDays",
		`UPDATE users SET unassigned_days = unassigned_days + $2 WHERE telegram_id = $1`, telegramID, days)
}

// TakeUnassignedDays обнуляет пул нераспределённых дней и возвращает прежнее значение.
func (s *Storage) TakeUnassignedDays(ctx context.Context, telegramID int64) (int, error) {
	const op = "storage.TakeUnassignedDays"
	if err := checkCtx(ctx, op); err != nil {
		return 0, err
	}

	query := `WITH old AS (
				SELECT unassigned_days FROM users WHERE telegram_id = $1 FOR UPDATE
			  )
			  UPDATE users SET unassigned_days = 0
			  FROM old
			  WHERE users.telegram_id = $1
			  RETURNING old.unassigned_days`
	var days int
	if err := s.conn(ctx).QueryRowContext(ctx, query, telegramID).Scan(&days); err != nil {
		return 0, notFound(op, err)
	}
	return days, nil
}

// AddBonusDays начисляет бонусные дни.
func (s *Storage) AddBonusDays(ctx context.Context, telegramID int64, days int) error {
	return s.execOne(ctx, "storage.AddBonusDays",
		`UPDATE users SET bonus_days = bonus_days + $2 WHERE telegram_id = $1`, telegramID, days)
}

// AddReferralBalance пополняет баланс первого уровня.
func (s *Storage) AddReferralBalance(ctx context.Context, telegramID int64, amount int64) error {
	return s.execOne(ctx, "storage.AddReferralBalance",
		`UPDATE users SET referral_balance = referral_balance + $2 WHERE telegram_id = $1`, telegramID, amount)
}

// AddL2ReferralBalance пополняет баланс второго уровня.
func (s *Storage) AddL2ReferralBalance(ctx context.Context, telegramID int64, amount int64) error {
	return s.execOne(ctx, "storage.AddL2ReferralBalance",
		`UPDATE users SET l2_referral_balance = l2_referral_balance + $2 WHERE telegram_id = $1`, telegramID, amount)
}

// DebitBalances списывает суммы с обоих балансов. Если средств не хватает,
// возвращает models.ErrInsufficientBalance и ничего не меняет.
func (s *Storage) DebitBalances(ctx context.Context, telegramID int64, fromL1, fromL2 int64) error {
	const op = "storage.DebitBalances"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE users
			  SET referral_balance = referral_balance - $2,
			      l2_referral_balance = l2_referral_balance - $3
			  WHERE telegram_id = $1 AND referral_balance >= $2 AND l2_referral_balance >= $3`
	res, err := s.conn(ctx).ExecContext(ctx, query, telegramID, fromL1, fromL2)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrInsufficientBalance)
	}
	return nil
}

// MarkActivated выставляет флаг первого ключа. Возвращает true, только если
// флаг был снят до вызова.
func (s *Storage) MarkActivated(ctx context.Context, telegramID int64) (bool, error) {
	const op = "storage.MarkActivated"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	query := `UPDATE users SET activated_first_vpn = TRUE
			  WHERE telegram_id = $1 AND NOT activated_first_vpn`
	res, err := s.conn(ctx).ExecContext(ctx, query, telegramID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// MarkTrialUsed отмечает, что пользователь получил пробный период.
func (s *Storage) MarkTrialUsed(ctx context.Context, telegramID int64) error {
	return s.execOne(ctx, "storage.MarkTrialUsed",
		`UPDATE users SET trial_used = TRUE WHERE telegram_id = $1`, telegramID)
}
