package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeWebhook TokenType = "webhook"
)

// Claims are the only supported JWT claims shape for this service.
// Access tokens identify an operator (UserID, Role); webhook tokens identify
// the calling application that delivers notifications (AppID).
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	AppID     string    `json:"app_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}
