package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingOperator = errors.New("token has no operator_id")

// TokenValidator — все, что нужно middleware от проверки токена.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*Claims, error)
}

// RSAValidator проверяет JWT, подписанные RS256.
type RSAValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewRSAValidator(pubKey *rsa.PublicKey) *RSAValidator {
	return &RSAValidator{
		publicKey: pubKey,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// VerifyToken принимает как "Bearer <jwt>", так и голый токен.
func (v *RSAValidator) VerifyToken(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := v.parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.OperatorID == "" {
		return nil, ErrMissingOperator
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
