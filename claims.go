package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of every token the codec signs. Tokens carry
// the subject key instead of the account row id.
type SessionClaims struct {
	jwt.RegisteredClaims
	SubjectKey     string `json:"uky"`
	PolicyID       int64  `json:"act"`
	RefreshCounter int    `json:"rti"`
}

// Expires returns the expiration time or the zero time
func (c *SessionClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAtTime returns the issued at time or the zero time
func (c *SessionClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}
