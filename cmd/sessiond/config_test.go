package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, path string) (*Config, error) {
	t.Helper()
	return LoadConfig(context.Background(), path, newLogger(false).GetLogger("config"))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(t, "")
	require.NoError(t, err)

	assert.Equal(t, "user", cfg.GetAccessPolicy())
	assert.Equal(t, "refresh", cfg.GetRefreshPolicy())
	assert.Equal(t, "confirm", cfg.GetConfirmPolicy())
	assert.Equal(t, "forgot_password", cfg.GetForgotPasswordPolicy())
	assert.Equal(t, "refresh_token", cfg.GetRefreshCookieName())
	assert.True(t, cfg.GetRefreshCookieHTTPOnly())
	assert.Equal(t, StoreSQL, cfg.Store)
	assert.Equal(t, MailerLog, cfg.Mailer.Driver)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
issuer: accounts.example.com
listen: ":9000"
policies:
  access: web
store: redis
redis:
  addr: redis:6379
  prefix: web
cookie:
  name: rt
  same_site: Lax
`)

	cfg, err := loadConfig(t, path)
	require.NoError(t, err)

	assert.Equal(t, "accounts.example.com", cfg.GetIssuer())
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "web", cfg.GetAccessPolicy())
	assert.Equal(t, "refresh", cfg.GetRefreshPolicy(), "unset keys keep defaults")
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "rt", cfg.GetRefreshCookieName())
	assert.Equal(t, "Lax", cfg.GetRefreshCookieSameSite())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Env(t *testing.T) {
	path := writeConfig(t, `
issuer: file-issuer
mailer:
  driver: sendgrid
  sendgrid:
    from_email: noreply@example.com
    confirm_template_id: d-confirm
`)

	t.Setenv("SESSIOND_ISSUER", "env-issuer")
	t.Setenv("SESSIOND_POLICIES__REFRESH", "rotate")
	t.Setenv("SESSIOND_COOKIE__SECURE", "false")
	t.Setenv("SESSIOND_DATABASE__DSN", "postgres://localhost/sessions")
	t.Setenv("SENDGRID_API_KEY", "SG.key")
	t.Setenv("SENDGRID_FORGOT_PASSWORD_TEMPLATE_ID", "d-forgot")

	cfg, err := loadConfig(t, path)
	require.NoError(t, err)

	assert.Equal(t, "env-issuer", cfg.Issuer, "environment wins over the file")
	assert.Equal(t, "rotate", cfg.Policies.Refresh)
	assert.False(t, cfg.Cookie.Secure)
	assert.True(t, cfg.Database.IsPostgres())
	assert.Equal(t, MailerSendGrid, cfg.Mailer.Driver)
	assert.Equal(t, "SG.key", cfg.Mailer.SendGrid.APIKey)
	assert.Equal(t, "d-forgot", cfg.Mailer.SendGrid.ForgotPasswordTemplateID)
	assert.Equal(t, "d-confirm", cfg.Mailer.SendGrid.ConfirmTemplateID)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("SESSIOND_STORE", "memcache")

	_, err := loadConfig(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"missing access policy", func(c *Config) { c.Policies.Access = "" }, false},
		{"unknown store", func(c *Config) { c.Store = "memcache" }, false},
		{"redis without addr", func(c *Config) { c.Store = StoreRedis; c.Redis.Addr = "" }, false},
		{"sql ignores redis", func(c *Config) { c.Redis.Addr = "" }, true},
		{"sendgrid without key", func(c *Config) { c.Mailer.Driver = MailerSendGrid }, false},
		{"bad same site", func(c *Config) { c.Cookie.SameSite = "Sometimes" }, false},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, false},
		{"unknown activity format", func(c *Config) { c.Activity = "csv" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
