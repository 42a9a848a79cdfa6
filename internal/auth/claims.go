package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Identity is the authenticated admin principal. TenantID is the home tenant
// from the token, not the tenant a request may be scoped to.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Claims is the JWT body. Refresh tokens leave Role empty.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role}
}
