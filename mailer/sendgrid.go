package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-session-auth"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultSendGridURL is the SendGrid API root
const DefaultSendGridURL = "https://api.sendgrid.com"

// SendGridConfig holds the API key, sender, and dynamic template ids
type SendGridConfig struct {
	BaseURL                  string `koanf:"base_url"`
	APIKey                   string `koanf:"api_key"`
	FromEmail                string `koanf:"from_email"`
	ConfirmTemplateID        string `koanf:"confirm_template_id"`
	ForgotPasswordTemplateID string `koanf:"forgot_password_template_id"`
}

func (c SendGridConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.FromEmail, validation.Required, is.Email),
		validation.Field(&c.ConfirmTemplateID, validation.Required),
		validation.Field(&c.ForgotPasswordTemplateID, validation.Required),
	)
}

// SendGridMailer sends tokens through SendGrid dynamic templates
type SendGridMailer struct {
	config SendGridConfig
	client *http.Client
	logger auth.Logger
}

var _ auth.Mailer = (*SendGridMailer)(nil)

// NewSendGridMailer validates config and returns a mailer using a pooled
// HTTP client
func NewSendGridMailer(config SendGridConfig, logger auth.Logger) (*SendGridMailer, error) {
	if err := config.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sendgrid config").
			WithTextCode(auth.TextCodeConfiguration)
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultSendGridURL
	}

	return &SendGridMailer{
		config: config,
		client: cleanhttp.DefaultPooledClient(),
		logger: logger,
	}, nil
}

// WithHTTPClient replaces the HTTP client
func (m *SendGridMailer) WithHTTPClient(client *http.Client) *SendGridMailer {
	if client != nil {
		m.client = client
	}
	return m
}

func (m *SendGridMailer) SendConfirmation(ctx context.Context, email, token string) error {
	return m.send(ctx, email, m.config.ConfirmTemplateID, map[string]string{
		"confirm_token": token,
	})
}

func (m *SendGridMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	return m.send(ctx, email, m.config.ForgotPasswordTemplateID, map[string]string{
		"password_token": token,
	})
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To                  []sendGridAddress `json:"to"`
	DynamicTemplateData map[string]string `json:"dynamic_template_data"`
}

type sendGridMessage struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	TemplateID       string                    `json:"template_id"`
}

func (m *SendGridMailer) send(ctx context.Context, email, templateID string, data map[string]string) error {
	body, err := json.Marshal(sendGridMessage{
		Personalizations: []sendGridPersonalization{{
			To:                  []sendGridAddress{{Email: email}},
			DynamicTemplateData: data,
		}},
		From:       sendGridAddress{Email: m.config.FromEmail},
		TemplateID: templateID,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode sendgrid message")
	}

	url := strings.TrimRight(m.config.BaseURL, "/") + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build sendgrid request")
	}
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "sendgrid request failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		m.logger.Error("sendgrid rejected message",
			"status", res.StatusCode,
			"template_id", templateID,
			"response", string(detail),
		)
		return goerrors.New(fmt.Sprintf("sendgrid responded %d", res.StatusCode), goerrors.CategoryExternal).
			WithMetadata(map[string]any{"status": res.StatusCode, "template_id": templateID})
	}

	return nil
}
