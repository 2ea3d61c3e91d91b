// Package jwtware protects fiber routes with access tokens issued by a
// SessionManager.
package jwtware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-session-auth"
)

var (
	defaultTokenLookup       = "header:" + fiber.HeaderAuthorization
	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
)

// TokenDecoder verifies a token against one access policy
type TokenDecoder interface {
	Decode(token string, expectedPolicyID int64) (*auth.SessionClaims, error)
}

// ValidationListener is invoked after a token has been decoded. Returning an
// error rejects the request.
type ValidationListener func(c *fiber.Ctx, claims *auth.SessionClaims) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	Decoder        TokenDecoder
	PolicyID       int64
	ContextKey     string
	// TokenContextKey holds the raw token in locals, auth.DefaultTokenKey
	// by default
	TokenContextKey string
	TokenLookup     string
	AuthScheme      string

	// ValidationListeners run in order after decoding succeeds
	ValidationListeners []ValidationListener

	// DisableContextClaims stops the middleware from copying the claims into
	// the request user context
	DisableContextClaims bool
}

// New returns a handler that decodes the request token and stores the
// claims under ContextKey
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawTokenFromContext(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.Decoder.Decode(raw, cfg.PolicyID)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if err := cfg.runValidationListeners(c, claims); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, claims)
		c.Locals(cfg.TokenContextKey, raw)

		if !cfg.DisableContextClaims {
			c.SetUserContext(auth.WithClaimsContext(c.UserContext(), claims))
		}

		return cfg.SuccessHandler(c)
	}
}

// ForManager configures the middleware to accept access tokens of manager
func ForManager(manager *auth.SessionManager, config ...Config) fiber.Handler {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Decoder = manager.Codec()
	cfg.PolicyID = manager.AccessPolicyID()
	return New(cfg)
}

func ExtractRawTokenFromContext(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	var raw string
	err := ErrJWTMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.Decoder == nil {
		panic("AUTH: JWT middleware configuration: Decoder is required.")
	}

	if cfg.PolicyID <= 0 {
		panic("AUTH: JWT middleware configuration: PolicyID is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = auth.DefaultClaimsKey
	}

	if cfg.TokenContextKey == "" {
		cfg.TokenContextKey = auth.DefaultTokenKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	code := auth.TextCodeUnauthorized
	message := "invalid or expired token"

	if errors.Is(err, ErrJWTMissingOrMalformed) {
		status = fiber.StatusBadRequest
		message = ErrJWTMissingOrMalformed.Error()
	}

	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"text_code": code,
			"message":   message,
		},
	})
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(c *fiber.Ctx, claims *auth.SessionClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(c, claims); err != nil {
			return err
		}
	}
	return nil
}

// GetExtractors parses a lookup such as
// "header:Authorization,cookie:access_token,query:token"
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && strings.TrimSpace(authSchemes[0]) != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}

		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "param":
			extractors = append(extractors, jwtFromParam(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromParam(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
