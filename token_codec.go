package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenCodec signs and verifies session tokens. Each access policy signs
// with its own secret, so a token minted for one purpose never verifies
// under another.
type TokenCodec struct {
	registry *PolicyRegistry
	issuer   string
	now      func() time.Time
	logger   Logger
}

// NewTokenCodec creates a codec that resolves policies through registry
func NewTokenCodec(registry *PolicyRegistry, issuer string) *TokenCodec {
	return &TokenCodec{
		registry: registry,
		issuer:   issuer,
		now:      time.Now,
		logger:   defaultLogger(),
	}
}

// WithClock overrides the time source used for issuing and verifying
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// WithLogger sets the logger
func (c *TokenCodec) WithLogger(logger Logger) *TokenCodec {
	c.logger = normalizeLogger(logger)
	return c
}

// Encode signs a token for subjectKey under the named policy. The expiration
// is derived from the policy duration at second granularity.
func (c *TokenCodec) Encode(subjectKey string, refreshCounter int, policyName string) (string, time.Time, error) {
	policy, ok := c.registry.ResolveByName(policyName)
	if !ok {
		return "", time.Time{}, ErrEncodingFailed.Clone().WithMetadata(map[string]any{
			"policy": policyName,
			"reason": "unknown_policy",
		})
	}

	method, ok := policy.SigningMethod()
	if !ok {
		return "", time.Time{}, ErrEncodingFailed.Clone().WithMetadata(map[string]any{
			"policy": policyName,
			"reason": "unsupported_algorithm",
		})
	}

	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(policy.TTL())

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SubjectKey:     subjectKey,
		PolicyID:       policy.ID,
		RefreshCounter: refreshCounter,
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(policy.SigningSecret))
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token").
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeEncodingFailed).
			WithMetadata(map[string]any{"policy": policyName})
	}

	return signed, expiresAt, nil
}

// Decode verifies token under the policy with expectedPolicyID. Every
// failure is reported as unauthorized; the reason is only logged.
func (c *TokenCodec) Decode(token string, expectedPolicyID int64) (*SessionClaims, error) {
	claims, reason := c.decode(token, expectedPolicyID)
	if reason != "" {
		c.logger.Debug("token rejected", "policy_id", expectedPolicyID, "reason", reason)
		return nil, unauthorized("invalid_token")
	}
	return claims, nil
}

func (c *TokenCodec) decode(token string, expectedPolicyID int64) (*SessionClaims, string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, "missing"
	}

	policy, ok := c.registry.ResolveByID(expectedPolicyID)
	if !ok {
		return nil, "unknown_policy"
	}

	method, ok := policy.SigningMethod()
	if !ok {
		return nil, "unsupported_algorithm"
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(policy.SigningSecret), nil
	}, parserOptions...)
	if err != nil {
		return nil, decodeReason(err)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, "malformed"
	}

	switch {
	case claims.PolicyID != expectedPolicyID:
		return nil, "policy_mismatch"
	case claims.SubjectKey == "":
		return nil, "missing_subject"
	case claims.RefreshCounter < 0:
		return nil, "negative_counter"
	}

	return claims, ""
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
