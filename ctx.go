package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

const (
	// DefaultClaimsKey is the fiber locals key holding decoded session claims
	DefaultClaimsKey = "session"
	// DefaultTokenKey is the fiber locals key holding the verified raw token
	DefaultTokenKey = "session_token"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the session claims in the given context
func WithClaimsContext(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts the session claims from the standard context
func ClaimsFromContext(ctx context.Context) (*SessionClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*SessionClaims)
	return raw, ok && raw != nil
}

// ClaimsFromLocals extracts the session claims stored by the access token
// middleware. An empty key uses DefaultClaimsKey.
func ClaimsFromLocals(c *fiber.Ctx, key string) (*SessionClaims, bool) {
	if key == "" {
		key = DefaultClaimsKey
	}
	raw, ok := c.Locals(key).(*SessionClaims)
	return raw, ok && raw != nil
}

// TokenFromLocals returns the raw access token the middleware verified. An
// empty key uses DefaultTokenKey.
func TokenFromLocals(c *fiber.Ctx, key string) (string, bool) {
	if key == "" {
		key = DefaultTokenKey
	}
	raw, ok := c.Locals(key).(string)
	return raw, ok && raw != ""
}

// SubjectKeyFromContext returns the subject key of the authenticated account
func SubjectKeyFromContext(ctx context.Context) (string, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.SubjectKey == "" {
		return "", false
	}
	return claims.SubjectKey, true
}
