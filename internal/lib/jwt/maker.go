// Package jwt выпускает и проверяет токены для внутренних вызовов API
// (бот обращается к провизионеру от имени пользователей).
package jwt

import (
	"time"
)

// Maker описывает интерфейс для генерации и парсинга токенов сервисов.
type Maker interface {
	GenerateToken(service string) (string, error)
	ParseToken(tokenStr string) (*CustomClaims, error)
}

// MakerImpl реализует Maker с использованием общего секрета HS256
// и времени жизни токена (TTL).
type MakerImpl struct {
	secretKey string        // Секретный ключ для подписи токенов.
	tokenTTL  time.Duration // Время жизни токена.
}

// NewJWTMaker создаёт MakerImpl на основе секретного ключа и TTL.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
