package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tollfree-ivr/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("JWT_SECRET is required")
)

// clock skew tolerated between the signer and this process
const leeway = 30 * time.Second

// Manager mints and checks admin API tokens signed with HS256.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IssuePair mints an access token for id and a refresh token without a role.
func (m *Manager) IssuePair(now time.Time, id Identity) (TokenPair, error) {
	if id.UserID == "" || id.TenantID == "" || id.Role == "" {
		return TokenPair{}, fmt.Errorf("issue token: user, tenant and role are required")
	}
	access, err := m.sign(now, TokenTypeAccess, id, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	id.Role = ""
	refresh, err := m.sign(now, TokenTypeRefresh, id, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh trades a refresh token for a fresh pair carrying role.
func (m *Manager) Refresh(now time.Time, refreshToken, role string) (TokenPair, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	id := claims.Identity()
	id.Role = role
	return m.IssuePair(now, id)
}

// Verify parses raw and checks signature, registered claims and token type.
// Every failure wraps ErrInvalidToken.
func (m *Manager) Verify(raw string, want TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, m.key); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch {
	case claims.TokenType != want:
		return Claims{}, fmt.Errorf("%w: want %s token, got %q", ErrInvalidToken, want, claims.TokenType)
	case claims.UserID == "" || claims.TenantID == "":
		return Claims{}, fmt.Errorf("%w: user_id and tenant_id are required", ErrInvalidToken)
	case want == TokenTypeAccess && claims.Role == "":
		return Claims{}, fmt.Errorf("%w: access token without role", ErrInvalidToken)
	}
	return claims, nil
}

func (m *Manager) key(*jwt.Token) (any, error) { return m.secret, nil }

func (m *Manager) sign(now time.Time, typ TokenType, id Identity, ttl time.Duration) (string, error) {
	reg := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   id.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.audience != "" {
		reg.Audience = jwt.ClaimStrings{m.audience}
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: reg,
		UserID:           id.UserID,
		TenantID:         id.TenantID,
		Role:             id.Role,
		TokenType:        typ,
	})
	s, err := tok.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, nil
}
