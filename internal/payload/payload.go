// Package payload кодирует и разбирает строку намерения покупки, которая
// передаётся вместе с платежом и возвращается провайдером после оплаты:
//
//	stars_{uid}_{tariff}_{server|none}
//	gift_{uid}_{tariff}
package payload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPayloadMalformed строка не соответствует формату.
var ErrPayloadMalformed = errors.New("payload malformed")

// Виды покупки.
const (
	KindStars = "stars"
	KindGift  = "gift"
)

const noServer = "none"

// Token разобранное намерение покупки.
type Token struct {
	Kind     string
	UserID   int64
	TariffID int64
	ServerID *int64
}

// IsGift покупка в подарок.
func (t Token) IsGift() bool {
	return t.Kind == KindGift
}

// String кодирует токен обратно в строку.
func (t Token) String() string {
	switch t.Kind {
	case KindGift:
		return fmt.Sprintf("%s_%d_%d", KindGift, t.UserID, t.TariffID)
	default:
		server := noServer
		if t.ServerID != nil {
			server = strconv.FormatInt(*t.ServerID, 10)
		}
		return fmt.Sprintf("%s_%d_%d_%s", KindStars, t.UserID, t.TariffID, server)
	}
}

// Parse разбирает строку. Любое нарушение формата возвращает ошибку,
// оборачивающую ErrPayloadMalformed.
func Parse(s string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) == 0 || parts[0] == "" {
		return Token{}, malformed(s, "empty")
	}

	var want int
	switch parts[0] {
	case KindStars:
		want = 4
	case KindGift:
		want = 3
	default:
		return Token{}, malformed(s, "unknown kind "+strconv.Quote(parts[0]))
	}
	if len(parts) != want {
		return Token{}, malformed(s, fmt.Sprintf("want %d parts, got %d", want, len(parts)))
	}

	uid, err := positiveID(parts[1])
	if err != nil {
		return Token{}, malformed(s, "user id: "+err.Error())
	}
	tariff, err := positiveID(parts[2])
	if err != nil {
		return Token{}, malformed(s, "tariff id: "+err.Error())
	}

	t := Token{Kind: parts[0], UserID: uid, TariffID: tariff}
	if t.Kind == KindStars && parts[3] != noServer {
		server, err := positiveID(parts[3])
		if err != nil {
			return Token{}, malformed(s, "server id: "+err.Error())
		}
		t.ServerID = &server
	}
	return t, nil
}

func positiveID(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive: %d", n)
	}
	return n, nil
}

func malformed(s, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrPayloadMalformed, s, reason)
}
