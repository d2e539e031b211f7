package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
)

// Claims are the only supported JWT claims shape accepted by the monitoring API.
// Tokens are issued by the host application's session layer; this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims

	Actor     string    `json:"actor"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
