package models

import "errors"

var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProvisioned пробный доступ на этой панели уже выдавался.
	ErrAlreadyProvisioned = errors.New("already provisioned")
	// ErrInsufficientBalance недостаточно средств на реферальном балансе.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNothingToActivate нет нераспределённых дней.
	ErrNothingToActivate = errors.New("no unassigned days")
	// ErrConflict нарушение уникальности.
	ErrConflict = errors.New("conflict")
	// ErrPanelUnavailable панель отключена администратором.
	ErrPanelUnavailable = errors.New("panel unavailable")
	// ErrSelfReferral пользователь пытается пригласить сам себя или своего пригласившего.
	ErrSelfReferral = errors.New("self referral")
)
