package auth

import "github.com/golang-jwt/jwt/v5"

// Скоупы административного API
const (
	ScopeSequenceRead  = "sequence:read"
	ScopeSequenceAdmin = "sequence:admin"
	ScopeAuditRead     = "audit:read"

	// ScopeAdmin открывает все маршруты
	ScopeAdmin = "admin"
)

// Claims — полезная нагрузка операторского токена.
type Claims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"` // "sequence:admin": true
	jwt.RegisteredClaims
}

// Has проверяет скоуп с учетом ScopeAdmin.
func (c *Claims) Has(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
