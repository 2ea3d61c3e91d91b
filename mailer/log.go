// Package mailer delivers confirmation and password reset tokens.
package mailer

import (
	"context"

	auth "github.com/goliatone/go-session-auth"
)

// LogMailer writes tokens to the logger instead of sending email. Use it for
// local development only.
type LogMailer struct {
	logger auth.Logger
}

var _ auth.Mailer = (*LogMailer)(nil)

// NewLogMailer returns a mailer writing to logger
func NewLogMailer(logger auth.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendConfirmation(_ context.Context, email, token string) error {
	m.logger.Info("confirmation email", "to", email, "confirm_token", token)
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.logger.Info("password reset email", "to", email, "password_token", token)
	return nil
}
