package models

import (
	"encoding/json"
	"time"
)

// Статусы платёжного события.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
)

// Платёжные системы.
const (
	PaymentSystemYooKassa        = "yookassa"
	PaymentSystemStars           = "stars"
	PaymentSystemReferralBalance = "referral_balance"
)

// Типы покупки.
const (
	PaymentTypeSubscription = "subscription"
	PaymentTypeGift         = "gift"
)

// PaymentEvent запись об одной попытке оплаты. ID присваивается провайдером
// и служит первичным ключом для идемпотентной обработки.
type PaymentEvent struct {
	ID             string
	UserID         int64
	TariffID       int64
	ServerID       *int64
	Amount         int64
	Currency       string
	PaymentSystem  string
	PaymentType    string
	Status         string
	NeedsAttention bool
	Details        json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsTerminal сообщает, что событие уже обработано.
func (p *PaymentEvent) IsTerminal() bool {
	return p.Status == PaymentStatusSucceeded || p.Status == PaymentStatusCanceled
}

// IsDirect покупка деньгами, а не с реферального баланса и не подарок.
func (p *PaymentEvent) IsDirect() bool {
	return p.PaymentSystem != PaymentSystemReferralBalance && p.PaymentType != PaymentTypeGift
}

// GiftCode подарочный код на тариф.
type GiftCode struct {
	Code              string
	TariffID          int64
	BuyerUserID       int64
	IsActivated       bool
	ActivatedByUserID *int64
	ActivatedAt       *time.Time
}
