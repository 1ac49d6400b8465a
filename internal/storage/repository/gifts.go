package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// CreateGiftCode сохраняет код. Занятый код возвращает models.ErrConflict.
func (s *Storage) CreateGiftCode(ctx context.Context, g *models.GiftCode) error {
	const op = "storage.CreateGiftCode"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO gift_codes (code, tariff_id, buyer_user_id) VALUES ($1, $2, $3)
			  ON CONFLICT (code) DO NOTHING`
	res, err := s.conn(ctx).ExecContext(ctx, query, g.Code, g.TariffID, g.BuyerUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	}
	return nil
}

// RedeemGiftCode активирует код и возвращает его. Уже активированный или
// несуществующий код возвращает models.ErrNotFound.
func (s *Storage) RedeemGiftCode(ctx context.Context, code string, userID int64, at time.Time) (*models.GiftCode, error) {
	const op = "storage.RedeemGiftCode"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `UPDATE gift_codes
			  SET is_activated = TRUE, activated_by_user_id = $2, activated_at = $3
			  WHERE code = $1 AND NOT is_activated
			  RETURNING code, tariff_id, buyer_user_id, is_activated, activated_by_user_id, activated_at`
	var g models.GiftCode
	err := s.conn(ctx).QueryRowContext(ctx, query, code, userID, at).
		Scan(&g.Code, &g.TariffID, &g.BuyerUserID, &g.IsActivated, &g.ActivatedByUserID, &g.ActivatedAt)
	if err != nil {
		return nil, notFound(op, err)
	}
	return &g, nil
}
