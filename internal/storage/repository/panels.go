package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// GetPanel возвращает панель по ID.
func (s *Storage) GetPanel(ctx context.Context, id int64) (*models.Panel, error) {
	const op = "storage.GetPanel"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, name, api_url, api_user, api_password, inbound_id, is_active
			  FROM servers WHERE id = $1`
	var p models.Panel
	err := s.conn(ctx).QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.APIURL, &p.APIUser, &p.APIPassword, &p.InboundID, &p.IsActive)
	if err != nil {
		return nil, notFound(op, err)
	}
	return &p, nil
}

// CreatePanel добавляет панель. Пароль должен быть уже зашифрован.
func (s *Storage) CreatePanel(ctx context.Context, p *models.Panel) (int64, error) {
	const op = "storage.CreatePanel"

	query := `INSERT INTO servers (name, api_url, api_user, api_password, inbound_id, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, query,
		p.Name, p.APIURL, p.APIUser, p.APIPassword, p.InboundID, p.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// GetTariff возвращает тариф по ID.
func (s *Storage) GetTariff(ctx context.Context, id int64) (*models.Tariff, error) {
	const op = "storage.GetTariff"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	query := `SELECT id, name, duration_days, price_rub, price_stars, is_active
			  FROM tariffs WHERE id = $1`
	var t models.Tariff
	err := s.conn(ctx).QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.Name, &t.DurationDays, &t.PriceRub, &t.PriceStars, &t.IsActive)
	if err != nil {
		return nil, notFound(op, err)
	}
	return &t, nil
}
