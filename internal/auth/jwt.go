package auth

import (
	"errors"
	"time"

	"callbot-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Manager issues and verifies HS256 tokens of one kind.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewManager builds the operator token manager.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl:      cfg.AccessTokenTTL,
	}, nil
}

// NewWebhookManager builds the verifier for inbound notification tokens.
func NewWebhookManager(cfg config.WebhookConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("WEBHOOK_JWT_SECRET is required")
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl:      5 * time.Minute,
	}, nil
}

/* ===================== ISSUE TOKENS ===================== */

func (m *Manager) IssueAccess(now time.Time, userID, role string) (string, error) {
	return m.issue(now, Claims{UserID: userID, Role: role, TokenType: TokenTypeAccess})
}

// IssueWebhook signs a token the way the notification sender must.
func (m *Manager) IssueWebhook(now time.Time, appID string) (string, error) {
	return m.issue(now, Claims{AppID: appID, TokenType: TokenTypeWebhook})
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, errors.New("token_type mismatch")
	}
	switch expected {
	case TokenTypeAccess:
		if claims.UserID == "" {
			return Claims{}, errors.New("user_id missing")
		}
		if claims.Role == "" {
			return Claims{}, errors.New("role missing in access token")
		}
	case TokenTypeWebhook:
		if claims.AppID == "" {
			return Claims{}, errors.New("app_id missing")
		}
	}
	return claims, nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(now time.Time, claims Claims) (string, error) {
	ttl := m.ttl
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
