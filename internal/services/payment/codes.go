package payment

import (
	"crypto/rand"
	"io"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8
	codeAttempts = 5

	// каждому символу соответствует ровно 7 значений байта ниже границы
	codeByteLimit = 256 - 256%len(codeAlphabet)
)

// newCode возвращает код подарка или реферальный код.
func newCode() (string, error) {
	return randomCode(rand.Reader, codeLength)
}

// randomCode собирает n символов алфавита, отбрасывая байты >= codeByteLimit.
func randomCode(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= codeByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
