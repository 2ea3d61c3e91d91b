package main

import (
	"context"
	"strings"

	"github.com/go-ozzo/ozzo-validation"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-config/koanf/providers/env"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-session-auth/mailer"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is prepended to every environment override
	EnvPrefix = "SESSIOND_"
	// EnvDelimiter separates nested keys in override names
	EnvDelimiter = "__"
	// SendGridEnvPrefix selects the SendGrid credential variables
	SendGridEnvPrefix = "SENDGRID_"
)

const (
	StoreSQL   = "sql"
	StoreRedis = "redis"

	MailerLog      = "log"
	MailerSendGrid = "sendgrid"

	// ActivityNormalized logs activity as actor, verb and object records
	ActivityNormalized = "normalized"
	// ActivityEvents logs the raw session events
	ActivityEvents = "events"
)

// Config is the sessiond configuration file
type Config struct {
	Issuer      string         `koanf:"issuer"`
	Listen      string         `koanf:"listen"`
	RoutePrefix string         `koanf:"route_prefix"`
	Debug       bool           `koanf:"debug"`
	Policies    PoliciesConfig `koanf:"policies"`
	Cookie      CookieConfig   `koanf:"cookie"`
	Database    DatabaseConfig `koanf:"database"`
	Store       string         `koanf:"store"`
	Redis       RedisConfig    `koanf:"redis"`
	Mailer      MailerConfig   `koanf:"mailer"`
	Activity    string         `koanf:"activity"`
}

// PoliciesConfig names the access policy of each token purpose
type PoliciesConfig struct {
	Access         string `koanf:"access"`
	Refresh        string `koanf:"refresh"`
	Confirm        string `koanf:"confirm"`
	ForgotPassword string `koanf:"forgot_password"`
}

type CookieConfig struct {
	Name     string `koanf:"name"`
	Domain   string `koanf:"domain"`
	Path     string `koanf:"path"`
	Secure   bool   `koanf:"secure"`
	HTTPOnly bool   `koanf:"http_only"`
	SameSite string `koanf:"same_site"`
}

type DatabaseConfig struct {
	DSN string `koanf:"dsn"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type MailerConfig struct {
	Driver   string                `koanf:"driver"`
	SendGrid mailer.SendGridConfig `koanf:"sendgrid"`
}

// DefaultConfig returns a development configuration backed by a local
// sqlite file and the log mailer
func DefaultConfig() *Config {
	return &Config{
		Issuer:      "sessiond",
		Listen:      ":8080",
		RoutePrefix: "/auth",
		Policies: PoliciesConfig{
			Access:         "user",
			Refresh:        "refresh",
			Confirm:        "confirm",
			ForgotPassword: "forgot_password",
		},
		Cookie: CookieConfig{
			Name:     "refresh_token",
			Path:     "/auth",
			Secure:   true,
			HTTPOnly: true,
			SameSite: "Strict",
		},
		Database: DatabaseConfig{
			DSN: "file:sessiond.db?cache=shared",
		},
		Store: StoreSQL,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "sessions",
		},
		Mailer: MailerConfig{
			Driver: MailerLog,
		},
		Activity: ActivityNormalized,
	}
}

// LoadConfig layers the file at path and the environment over the
// defaults and validates the result. An empty path skips the file.
//
// SESSIOND_ variables address nested keys with a double underscore, e.g.
// SESSIOND_DATABASE__DSN or SESSIOND_POLICIES__REFRESH. The SENDGRID_
// variables fill mailer.sendgrid.
func LoadConfig(ctx context.Context, path string, lgr glog.Logger) (*Config, error) {
	container := gconfig.New(DefaultConfig()).
		WithLogger(lgr)

	providers := []gconfig.ProviderBuilder[*Config]{
		gconfig.EnvProvider[*Config](EnvPrefix, EnvDelimiter),
		sendGridEnvProvider,
	}
	if path != "" {
		providers = append(providers, gconfig.FileProvider[*Config](path))
	}
	container.WithProvider(providers...)

	if err := container.Load(ctx); err != nil {
		return nil, err
	}

	return container.Raw(), nil
}

// sendGridEnvProvider maps SENDGRID_API_KEY and friends onto
// mailer.sendgrid, after the SESSIOND_ variables
func sendGridEnvProvider(c *gconfig.Container[*Config]) (gconfig.Provider, error) {
	return &envSource{
		prefix: SendGridEnvPrefix,
		root:   "mailer.sendgrid.",
		order:  int(gconfig.PriorityEnv.WithOffset(1)),
	}, nil
}

type envSource struct {
	prefix string
	root   string
	order  int
}

func (e *envSource) Type() gconfig.ProviderType { return gconfig.ProviderTypeEnv }
func (e *envSource) Priority() int              { return e.order }
func (e *envSource) Validate() error            { return nil }

func (e *envSource) Load(_ context.Context, k *koanf.Koanf) error {
	prv := env.ProviderWithValue(e.prefix, ".", func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return e.root + strings.ToLower(strings.TrimPrefix(key, e.prefix)), value
	})

	if err := k.Load(prv, json.Parser()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load environment variables").
			WithTextCode("ENV_LOAD_FAILED").
			WithMetadata(map[string]any{"prefix": e.prefix})
	}
	return nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Issuer, validation.Required),
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.Policies),
		validation.Field(&c.Database),
		validation.Field(&c.Store, validation.Required, validation.In(StoreSQL, StoreRedis)),
		validation.Field(&c.Redis, skipUnless(c.Store == StoreRedis)...),
		validation.Field(&c.Mailer),
		validation.Field(&c.Cookie),
		validation.Field(&c.Activity, validation.In(ActivityNormalized, ActivityEvents)),
	)
}

func (p PoliciesConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Access, validation.Required),
		validation.Field(&p.Refresh, validation.Required),
		validation.Field(&p.Confirm, validation.Required),
		validation.Field(&p.ForgotPassword, validation.Required),
	)
}

func (c CookieConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.SameSite, validation.In("Strict", "Lax", "None")),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.DSN, validation.Required),
	)
}

func (r RedisConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addr, validation.Required),
	)
}

func (m MailerConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Driver, validation.Required, validation.In(MailerLog, MailerSendGrid)),
		validation.Field(&m.SendGrid, skipUnless(m.Driver == MailerSendGrid)...),
	)
}

func skipUnless(active bool) []validation.Rule {
	if active {
		return nil
	}
	return []validation.Rule{validation.Skip}
}

// IsPostgres reports whether the DSN targets postgres
func (d DatabaseConfig) IsPostgres() bool {
	dsn := strings.ToLower(d.DSN)
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (c *Config) GetIssuer() string               { return c.Issuer }
func (c *Config) GetAccessPolicy() string         { return c.Policies.Access }
func (c *Config) GetRefreshPolicy() string        { return c.Policies.Refresh }
func (c *Config) GetConfirmPolicy() string        { return c.Policies.Confirm }
func (c *Config) GetForgotPasswordPolicy() string { return c.Policies.ForgotPassword }

func (c *Config) GetRefreshCookieName() string     { return c.Cookie.Name }
func (c *Config) GetRefreshCookieDomain() string   { return c.Cookie.Domain }
func (c *Config) GetRefreshCookiePath() string     { return c.Cookie.Path }
func (c *Config) GetRefreshCookieSecure() bool     { return c.Cookie.Secure }
func (c *Config) GetRefreshCookieHTTPOnly() bool   { return c.Cookie.HTTPOnly }
func (c *Config) GetRefreshCookieSameSite() string { return c.Cookie.SameSite }
