package auth_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-session-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

const (
	policyAccess  = "user"
	policyRefresh = "refresh"
	policyConfirm = "confirm"
	policyForgot  = "forgot_password"
	testIssuer    = "sessions.test"
)

func testPolicies() []*auth.AccessPolicy {
	return []*auth.AccessPolicy{
		{ID: 1, Name: policyAccess, SigningSecret: "access-secret-0123456789abcdef", Algorithm: "HS256", Duration: 15, DurationUnit: auth.UnitMinutes},
		{ID: 2, Name: policyRefresh, SigningSecret: "refresh-secret-0123456789abcdef", Algorithm: "HS256", Duration: 7, DurationUnit: auth.UnitDays},
		{ID: 3, Name: policyConfirm, SigningSecret: "confirm-secret-0123456789abcdef", Algorithm: "HS384", Duration: 1, DurationUnit: auth.UnitDays},
		{ID: 4, Name: policyForgot, SigningSecret: "forgot-secret-0123456789abcdef", Algorithm: "HS512", Duration: 1, DurationUnit: auth.UnitHours},
	}
}

// testConfig implements auth.Config and auth.CookieConfig
type testConfig struct{}

func (testConfig) GetIssuer() string               { return testIssuer }
func (testConfig) GetAccessPolicy() string         { return policyAccess }
func (testConfig) GetRefreshPolicy() string        { return policyRefresh }
func (testConfig) GetConfirmPolicy() string        { return policyConfirm }
func (testConfig) GetForgotPasswordPolicy() string { return policyForgot }
func (testConfig) GetRefreshCookieName() string    { return "refresh_token" }
func (testConfig) GetRefreshCookieDomain() string  { return "" }
func (testConfig) GetRefreshCookiePath() string    { return "/auth" }
func (testConfig) GetRefreshCookieSecure() bool    { return true }
func (testConfig) GetRefreshCookieHTTPOnly() bool  { return true }
func (testConfig) GetRefreshCookieSameSite() string {
	return "Strict"
}

// MockPolicyStore implements auth.PolicyStore
type MockPolicyStore struct {
	mock.Mock
}

func (m *MockPolicyStore) ListPolicies(ctx context.Context) ([]*auth.AccessPolicy, error) {
	args := m.Called(ctx)
	policies, _ := args.Get(0).([]*auth.AccessPolicy)
	return policies, args.Error(1)
}

// MockMailer implements auth.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendConfirmation(ctx context.Context, email, token string) error {
	args := m.Called(ctx, email, token)
	return args.Error(0)
}

func (m *MockMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	args := m.Called(ctx, email, token)
	return args.Error(0)
}

// outbox is a Mailer that keeps the last token sent to each address
type outbox struct {
	mu       sync.Mutex
	confirm  map[string]string
	reset    map[string]string
	failWith error
}

func newOutbox() *outbox {
	return &outbox{
		confirm: map[string]string{},
		reset:   map[string]string{},
	}
}

func (o *outbox) SendConfirmation(_ context.Context, email, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWith != nil {
		return o.failWith
	}
	o.confirm[email] = token
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, email, token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failWith != nil {
		return o.failWith
	}
	o.reset[email] = token
	return nil
}

func (o *outbox) confirmToken(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.confirm[email]
}

func (o *outbox) resetToken(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reset[email]
}

func (o *outbox) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failWith = err
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// nopLogger discards log output in tests
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MockAccountStore implements auth.AccountStore
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) FetchByKey(ctx context.Context, subjectKey string, expectedCounter int) (*auth.Account, error) {
	args := m.Called(ctx, subjectKey, expectedCounter)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *MockAccountStore) FetchByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *MockAccountStore) Create(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	args := m.Called(ctx, account)
	created, _ := args.Get(0).(*auth.Account)
	return created, args.Error(1)
}

func (m *MockAccountStore) UpdateConfirmed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAccountStore) UpdateHashedPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *MockAccountStore) IncrementCounterIfMatches(ctx context.Context, id uuid.UUID, expected int) error {
	return m.Called(ctx, id, expected).Error(0)
}
