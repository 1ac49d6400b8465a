package models

import "time"

// Panel описывает удалённую панель 3x-ui, на которой выпускаются ключи.
// APIPassword хранится в зашифрованном виде.
type Panel struct {
	ID          int64
	Name        string
	APIURL      string
	APIUser     string
	APIPassword string
	InboundID   int
	IsActive    bool
}

// Tariff описывает тариф: длительность и цену в рублях (копейки) и звёздах.
type Tariff struct {
	ID           int64
	Name         string
	DurationDays int
	PriceRub     int64
	PriceStars   int64
	IsActive     bool
}

// Credential связывает пользователя и панель: идентификатор клиента на панели
// и срок действия. Для пары (пользователь, панель) существует не более одной записи.
type Credential struct {
	ID           int64
	UserID       int64
	ServerID     int64
	CredentialID string // UUID клиента на панели, не меняется после создания
	ExpiresAt    time.Time
	IsActive     bool
	RemindedAt   *time.Time
}

// Grant результат выдачи доступа.
type Grant struct {
	URI          string    `json:"uri"`
	ExpiresAt    time.Time `json:"expires_at"`
	CredentialID string    `json:"credential_id"`
	Created      bool      `json:"created"`
}

// ExpiringCredential строка выборки для напоминаний и деактивации.
type ExpiringCredential struct {
	Credential
	PanelName string
}
