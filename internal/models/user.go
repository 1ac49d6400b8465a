// Package models содержит доменные структуры движка выдачи VPN-доступа:
// пользователей, панели, ключи доступа, тарифы, платёжные события и подарочные коды.
// Структуры используются в бизнес‑логике и при работе с хранилищем.
package models

import "time"

// User представляет пользователя бота, идентифицируемого по Telegram ID.
// Балансы хранятся в копейках.
type User struct {
	TelegramID        int64     // Идентификатор пользователя в Telegram
	ReferralBalance   int64     // Баланс за рефералов первого уровня
	L2ReferralBalance int64     // Баланс за рефералов второго уровня
	UnassignedDays    int       // Оплаченные дни, ещё не привязанные к серверу
	BonusDays         int       // Бонусные дни за активацию приглашённых
	TrialUsed         bool      // Пробный период уже использован
	ActivatedFirstVPN bool      // Первый ключ выдан, бонус пригласившему начислен
	ReferrerID        *int64    // Пригласивший пользователь (nil, если нет)
	ReferralCode      *string   // Реферальный код, генерируется лениво
	IsBanned          bool      // Пользователь заблокирован
	CreatedAt         time.Time // Дата регистрации
}

// TotalBalance возвращает сумму обоих реферальных балансов.
func (u *User) TotalBalance() int64 {
	return u.ReferralBalance + u.L2ReferralBalance
}
