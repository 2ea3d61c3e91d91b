package auth

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultAlgorithm is used when a policy does not name one
const DefaultAlgorithm = "HS256"

var unitAliases = map[string]DurationUnit{
	"s":       UnitSeconds,
	"sec":     UnitSeconds,
	"second":  UnitSeconds,
	"seconds": UnitSeconds,
	"m":       UnitMinutes,
	"min":     UnitMinutes,
	"minute":  UnitMinutes,
	"minutes": UnitMinutes,
	"h":       UnitHours,
	"hour":    UnitHours,
	"hours":   UnitHours,
	"d":       UnitDays,
	"day":     UnitDays,
	"days":    UnitDays,
}

var unitDurations = map[DurationUnit]time.Duration{
	UnitSeconds: time.Second,
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    24 * time.Hour,
}

var signingMethods = map[string]jwt.SigningMethod{
	jwt.SigningMethodHS256.Alg(): jwt.SigningMethodHS256,
	jwt.SigningMethodHS384.Alg(): jwt.SigningMethodHS384,
	jwt.SigningMethodHS512.Alg(): jwt.SigningMethodHS512,
}

// ParseDurationUnit normalizes long and short unit names ("m", "minutes")
func ParseDurationUnit(unit string) (DurationUnit, error) {
	if u, ok := unitAliases[strings.ToLower(strings.TrimSpace(unit))]; ok {
		return u, nil
	}
	return "", goerrors.New("unknown duration unit", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeInvalidPayload).
		WithMetadata(map[string]any{"unit": unit})
}

// TTL returns the lifetime of tokens issued under the policy
func (p *AccessPolicy) TTL() time.Duration {
	unit, err := ParseDurationUnit(p.DurationUnit)
	if err != nil {
		return 0
	}
	return time.Duration(p.Duration) * unitDurations[unit]
}

// SigningMethod returns the HMAC method the policy signs with
func (p *AccessPolicy) SigningMethod() (jwt.SigningMethod, bool) {
	alg := strings.ToUpper(strings.TrimSpace(p.Algorithm))
	if alg == "" {
		alg = DefaultAlgorithm
	}
	m, ok := signingMethods[alg]
	return m, ok
}

// Validate checks the policy can sign tokens
func (p AccessPolicy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.SigningSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&p.Duration, validation.Required, validation.Min(1)),
		validation.Field(&p.DurationUnit, validation.Required, validation.By(func(value any) error {
			_, err := ParseDurationUnit(value.(string))
			return err
		})),
		validation.Field(&p.Algorithm, validation.By(func(value any) error {
			if _, ok := (&AccessPolicy{Algorithm: value.(string)}).SigningMethod(); !ok {
				return errors.New("unsupported signing algorithm")
			}
			return nil
		})),
	)
}
