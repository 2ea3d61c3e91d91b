package auth

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind groups text codes into the outcomes a transport maps to a status
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindConfiguration       ErrorKind = "configuration"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindAccountNotConfirmed ErrorKind = "account_not_confirmed"
	KindConflict            ErrorKind = "conflict"
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindInternal            ErrorKind = "internal"
)

const (
	TextCodeConfiguration       = "CONFIGURATION_ERROR"
	TextCodeUnauthorized        = "UNAUTHORIZED"
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodeAccountNotConfirmed = "ACCOUNT_NOT_CONFIRMED"
	TextCodeAccountExists       = "ACCOUNT_EXISTS"
	TextCodeAlreadyConfirmed    = "ALREADY_CONFIRMED"
	TextCodePasswordMismatch    = "PASSWORD_MISMATCH"
	TextCodePasswordUnchanged   = "PASSWORD_UNCHANGED"
	TextCodeInvalidPayload      = "INVALID_PAYLOAD"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	TextCodeCounterMismatch     = "COUNTER_MISMATCH"
	TextCodeInternal            = "INTERNAL_ERROR"
	TextCodeDeliveryFailed      = "DELIVERY_FAILED"
	TextCodeEncodingFailed      = "ENCODING_FAILED"
	TextCodeStoreUnavailable    = "STORE_UNAVAILABLE"
)

var textCodeKinds = map[string]ErrorKind{
	TextCodeConfiguration:       KindConfiguration,
	TextCodeUnauthorized:        KindUnauthorized,
	TextCodeCounterMismatch:     KindUnauthorized,
	TextCodeInvalidCreds:        KindInvalidCredentials,
	TextCodeAccountNotConfirmed: KindAccountNotConfirmed,
	TextCodeAccountExists:       KindConflict,
	TextCodeAlreadyConfirmed:    KindConflict,
	TextCodePasswordMismatch:    KindValidation,
	TextCodePasswordUnchanged:   KindValidation,
	TextCodeInvalidPayload:      KindValidation,
	TextCodeEmptyPassword:       KindValidation,
	TextCodeAccountNotFound:     KindNotFound,
	TextCodeInternal:            KindInternal,
	TextCodeDeliveryFailed:      KindInternal,
	TextCodeEncodingFailed:      KindInternal,
	TextCodeStoreUnavailable:    KindInternal,
}

// ErrConfiguration is returned when a policy name is not registered. It is a
// deployment defect and should stop the process at startup.
var ErrConfiguration = goerrors.New("access policy configuration error", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeConfiguration)

// ErrUnauthorized covers every token, counter, and missing credential failure
var ErrUnauthorized = goerrors.New("unauthorized", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeUnauthorized)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidCreds)

// ErrAccountNotConfirmed is returned on login before the email is confirmed
var ErrAccountNotConfirmed = goerrors.New("account email is not confirmed", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeAccountNotConfirmed)

// ErrAccountExists is returned when registering an email twice
var ErrAccountExists = goerrors.New("account already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeAccountExists)

// ErrAlreadyConfirmed is returned when confirming a confirmed account
var ErrAlreadyConfirmed = goerrors.New("account is already confirmed", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeAlreadyConfirmed)

// ErrPasswordMismatch is returned when password and confirmation differ
var ErrPasswordMismatch = goerrors.New("passwords do not match", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodePasswordMismatch)

// ErrPasswordUnchanged is returned when the new password equals the old one
var ErrPasswordUnchanged = goerrors.New("password did not change", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodePasswordUnchanged)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeEmptyPassword)

// ErrAccountNotFound is returned by stores on a lookup miss
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeAccountNotFound)

// ErrCounterMismatch is returned by stores when the conditional increment
// did not match the persisted refresh counter
var ErrCounterMismatch = goerrors.New("refresh counter mismatch", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeCounterMismatch)

// ErrDeliveryFailed is returned when the mailer could not send a token
var ErrDeliveryFailed = goerrors.New("failed to deliver email", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeDeliveryFailed)

// ErrEncodingFailed is returned when a token could not be signed
var ErrEncodingFailed = goerrors.New("failed to encode token", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeEncodingFailed)

// TextCodeOf returns the text code of a rich error, or an empty string
func TextCodeOf(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// HasTextCode reports whether err is a rich error with the given text code
func HasTextCode(err error, code string) bool {
	return err != nil && TextCodeOf(err) == code
}

// KindOf classifies an error. Errors that carry no known text code are
// internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if kind, ok := textCodeKinds[TextCodeOf(err)]; ok {
		return kind
	}
	return KindInternal
}

// StatusCode returns the suggested HTTP status for err
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		if _, known := textCodeKinds[richErr.TextCode]; known {
			return richErr.Code
		}
	}
	return http.StatusInternalServerError
}

func configurationError(name string) error {
	return ErrConfiguration.Clone().WithMetadata(map[string]any{
		"policy": name,
	})
}

func unauthorized(reason string) error {
	return ErrUnauthorized.Clone().WithMetadata(map[string]any{
		"reason": reason,
	})
}

// storeError converts a failed store call into an internal error. Timeouts
// are transient and reported as unavailable so callers can retry.
func storeError(err error, message string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, message).
			WithCode(http.StatusServiceUnavailable).
			WithTextCode(TextCodeStoreUnavailable)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeInternal)
}
