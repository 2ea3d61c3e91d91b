package auth

import (
	"context"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Logger is the logging contract used across the package
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the token issuer and the policy names for each purpose
type Config interface {
	GetIssuer() string
	GetAccessPolicy() string
	GetRefreshPolicy() string
	GetConfirmPolicy() string
	GetForgotPasswordPolicy() string
}

// CookieConfig holds the attributes of the refresh token cookie
type CookieConfig interface {
	GetRefreshCookieName() string
	GetRefreshCookieDomain() string
	GetRefreshCookiePath() string
	GetRefreshCookieSecure() bool
	GetRefreshCookieHTTPOnly() bool
	GetRefreshCookieSameSite() string
}

// PolicyStore lists the provisioned access policies
type PolicyStore interface {
	ListPolicies(ctx context.Context) ([]*AccessPolicy, error)
}

// AccountStore persists accounts. Lookups by subject key must validate the
// refresh counter and IncrementCounterIfMatches must be a single conditional
// write at the storage layer.
type AccountStore interface {
	FetchByKey(ctx context.Context, subjectKey string, expectedCounter int) (*Account, error)
	FetchByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	UpdateConfirmed(ctx context.Context, id uuid.UUID) error
	UpdateHashedPassword(ctx context.Context, id uuid.UUID, hash string) error
	IncrementCounterIfMatches(ctx context.Context, id uuid.UUID, expected int) error
}

// Mailer delivers purpose specific tokens to an account email
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithName("auth"),
		glog.WithLoggerTypePretty(),
		glog.WithAddSource(false),
	).GetLogger("auth")
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defaultLogger()
	}
	return l
}
