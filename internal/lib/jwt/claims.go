package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "vpn-provisioner"

// CustomClaims имя вызывающего сервиса поверх стандартных claims.
type CustomClaims struct {
	Service              string `json:"service"`
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, Issuer
}

// GenerateToken создаёт токен для сервиса service со сроком жизни tokenTTL.
func (j *MakerImpl) GenerateToken(service string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		Service: service,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secretKey))
}

// ParseToken проверяет подпись, алгоритм, издателя и срок действия токена.
func (j *MakerImpl) ParseToken(tokenStr string) (*CustomClaims, error) {
	const op = "jwt.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(j.secretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.Service == "" {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}
