package models

import "time"

// Виды уведомлений, которые уходят в очередь notifications.
const (
	NotificationKeyIssued     = "key_issued"
	NotificationDaysReserved  = "days_reserved"
	NotificationGiftPurchased = "gift_purchased"
	NotificationExpiring      = "subscription_expiring"
	NotificationExpired       = "subscription_expired"
	NotificationAttention     = "payment_attention"
)

// Notification сообщение для доставки пользователю (или оператору, если
// Kind == NotificationAttention).
type Notification struct {
	Kind      string     `json:"kind"`
	UserID    int64      `json:"user_id"`
	PanelName string     `json:"panel_name,omitempty"`
	URI       string     `json:"uri,omitempty"`
	Days      int        `json:"days,omitempty"`
	GiftCode  string     `json:"gift_code,omitempty"`
	PaymentID string     `json:"payment_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
