// Package sealed шифрует секреты панелей (пароли API) для хранения в БД.
// Формат: base64(nonce[24] || secretbox(plaintext)).
package sealed

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrDecrypt шифротекст повреждён или зашифрован другим ключом.
var ErrDecrypt = errors.New("sealed: decryption failed")

// Box шифрует и расшифровывает значения одним ключом.
type Box struct {
	key [keySize]byte
}

// New создаёт Box из ключа в hex (64 символа).
func New(hexKey string) (*Box, error) {
	const op = "sealed.New"
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("%s: key must be %d bytes, got %d", op, keySize, len(raw))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal шифрует plaintext.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("sealed.Seal: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open расшифровывает значение, полученное из Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
