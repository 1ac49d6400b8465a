package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader заголовок с подписью уведомления.
const SignatureHeader = "X-Yookassa-Signature"

// ErrSignatureInvalid подпись отсутствует, не разбирается, не совпадает или устарела.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verifier проверяет подпись вида "t=<unix>,v1=<hex>" над "{t}.{body}".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier создаёт Verifier с общим секретом и допустимым расхождением времени.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify возвращает ErrSignatureInvalid (с деталями), если подпись не подходит к body.
func (v *Verifier) Verify(header string, body []byte) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: secret is not configured", ErrSignatureInvalid)
	}
	if header == "" {
		return fmt.Errorf("%w: missing header", ErrSignatureInvalid)
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
		}
		switch key {
		case "t":
			ts = val
		case "v1":
			sig, err := hex.DecodeString(val)
			if err != nil {
				return fmt.Errorf("%w: malformed v1", ErrSignatureInvalid)
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: t and v1 are required", ErrSignatureInvalid)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrSignatureInvalid)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := computeMAC(v.secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("%w: mismatch", ErrSignatureInvalid)
}

func computeMAC(secret []byte, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign формирует значение заголовка подписи для body в момент at.
func Sign(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeMAC([]byte(secret), ts, body))
}
