package auth

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// RegisterMessage is the input of Register
type RegisterMessage struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// Validate checks required fields. The confirmation match is checked by
// the flow so it reports a distinct error.
func (m RegisterMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&m.Password, validation.Required, validation.Length(1, 72)),
		validation.Field(&m.Confirmation, validation.Required),
	)
}

// LoginMessage is the input of Login
type LoginMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (m LoginMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
		validation.Field(&m.Password, validation.Required),
	)
}

// ConfirmMessage carries a confirmation token and the email it was sent to
type ConfirmMessage struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// Validate will validate the payload
func (m ConfirmMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// EmailMessage is the input of ResendConfirmation and ForgotPassword
type EmailMessage struct {
	Email string `json:"email"`
}

// Validate will validate the payload
func (m EmailMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, is.Email),
	)
}

// ResetPasswordMessage is the input of ResetPassword
type ResetPasswordMessage struct {
	Token        string `json:"token"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// Validate will validate the payload
func (m ResetPasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, validation.Required, validation.Length(1, 72)),
		validation.Field(&m.Confirmation, validation.Required),
	)
}

// ChangePasswordMessage is the input of ChangePassword. OldPassword is
// optional.
type ChangePasswordMessage struct {
	Token        string `json:"token"`
	OldPassword  string `json:"old_password"`
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// Validate will validate the payload
func (m ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Token, validation.Required),
		validation.Field(&m.Password, validation.Required, validation.Length(1, 72)),
		validation.Field(&m.Confirmation, validation.Required),
	)
}

// NormalizeEmail lower cases and trims an address before lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type validatable interface {
	Validate() error
}

// validatePayload turns ozzo field errors into an INVALID_PAYLOAD error
// with one metadata entry per field.
func validatePayload(payload validatable) error {
	err := payload.Validate()
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid payload").
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeInvalidPayload).
		WithMetadata(fields)
}

func passwordsMatch(password, confirmation string) error {
	if password != confirmation {
		return ErrPasswordMismatch.Clone()
	}
	return nil
}
