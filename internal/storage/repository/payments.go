package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// CreatePaymentEvent сохраняет событие в статусе pending. Возвращает false,
// если событие с таким ID уже есть.
func (s *Storage) CreatePaymentEvent(ctx context.Context, p *models.PaymentEvent) (bool, error) {
	const op = "storage.CreatePaymentEvent"
	if err := checkCtx(ctx, op); err != nil {
		return false, err
	}

	var details any
	if len(p.Details) > 0 {
		details = []byte(p.Details)
	}
	query := `INSERT INTO transactions
			  (id, user_id, tariff_id, server_id, amount, currency, payment_system, payment_type, status, payment_details)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
			  ON CONFLICT (id) DO NOTHING`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		p.ID, p.UserID, p.TariffID, p.ServerID, p.Amount, p.Currency, p.PaymentSystem, p.PaymentType, details)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n == 1, nil
}

// GetPaymentEventForUpdate возвращает событие и блокирует его строку:
// параллельная доставка того же события ждёт завершения транзакции.
func (s *Storage) GetPaymentEventForUpdate(ctx context.Context, id string) (*models.PaymentEvent, error) {
	const op = "storage.GetPaymentEventForUpdate"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, tariff_id, server_id, amount, currency, payment_system, payment_type,
			  status, needs_attention, COALESCE(payment_details, 'null'::jsonb), created_at, updated_at
			  FROM transactions WHERE id = $1 FOR UPDATE`
	var p models.PaymentEvent
	var details []byte
	err := s.conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.UserID, &p.TariffID, &p.ServerID, &p.Amount, &p.Currency, &p.PaymentSystem, &p.PaymentType,
		&p.Status, &p.NeedsAttention, &details, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(op, err)
	}
	p.Details = details
	return &p, nil
}

// UpdatePaymentEventStatus выставляет итоговый статус события.
func (s *Storage) UpdatePaymentEventStatus(ctx context.Context, id, status string, needsAttention bool) error {
	return s.execOne(ctx, "storage.UpdatePaymentEventStatus",
		`UPDATE transactions SET status = $2, needs_attention = $3, updated_at = NOW() WHERE id = $1`,
		id, status, needsAttention)
}
