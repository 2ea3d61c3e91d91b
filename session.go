package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultOperationTimeout bounds the store and mailer calls of a flow
const DefaultOperationTimeout = 10 * time.Second

type policyRef struct {
	name string
	id   int64
}

// SessionManager runs the session flows: registration, confirmation,
// login, refresh rotation, password reset and logout. Token validity is
// tied to the refresh counter persisted with each account.
type SessionManager struct {
	registry  *PolicyRegistry
	codec     *TokenCodec
	accounts  AccountStore
	mailer    Mailer
	passwords PasswordAuthenticator
	activity  ActivitySink
	logger    Logger
	timeout   time.Duration
	now       func() time.Time

	access  policyRef
	refresh policyRef
	confirm policyRef
	forgot  policyRef

	dummyOnce sync.Once
	dummy     string
}

// NewSessionManager wires a manager to a loaded registry. Every policy name
// in cfg must be registered, an unknown name is a ConfigurationError.
func NewSessionManager(cfg Config, registry *PolicyRegistry, accounts AccountStore, mailer Mailer) (*SessionManager, error) {
	m := &SessionManager{
		registry:  registry,
		codec:     NewTokenCodec(registry, cfg.GetIssuer()),
		accounts:  accounts,
		mailer:    mailer,
		passwords: NewBcryptHasher(0),
		activity:  noopActivitySink{},
		logger:    defaultLogger(),
		timeout:   DefaultOperationTimeout,
		now:       time.Now,
	}

	refs := []struct {
		target *policyRef
		name   string
	}{
		{&m.access, cfg.GetAccessPolicy()},
		{&m.refresh, cfg.GetRefreshPolicy()},
		{&m.confirm, cfg.GetConfirmPolicy()},
		{&m.forgot, cfg.GetForgotPasswordPolicy()},
	}

	for _, ref := range refs {
		id, err := registry.ResolveIDByName(ref.name)
		if err != nil {
			return nil, err
		}
		*ref.target = policyRef{name: ref.name, id: id}
	}

	return m, nil
}

// AccessPolicyID returns the id access tokens are decoded against
func (m *SessionManager) AccessPolicyID() int64 {
	return m.access.id
}

// WithLogger sets the logger used by the manager and its codec
func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	m.logger = normalizeLogger(logger)
	m.codec.WithLogger(m.logger)
	return m
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// WithPasswordAuthenticator replaces the default bcrypt hasher
func (m *SessionManager) WithPasswordAuthenticator(p PasswordAuthenticator) *SessionManager {
	if p != nil {
		m.passwords = p
	}
	return m
}

// WithOperationTimeout sets the deadline applied to every flow
func (m *SessionManager) WithOperationTimeout(d time.Duration) *SessionManager {
	if d > 0 {
		m.timeout = d
	}
	return m
}

// WithClock overrides the time source of the manager and its codec
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
		m.codec.WithClock(now)
	}
	return m
}

// Codec exposes the codec used to sign and verify tokens
func (m *SessionManager) Codec() *TokenCodec {
	return m.codec
}

func (m *SessionManager) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return nil, nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op).
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeInternal)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	return ctx, cancel, nil
}

// issuePair mints an access and a refresh token for the same counter
func (m *SessionManager) issuePair(subjectKey string, counter int) (*TokenPair, error) {
	access, accessExp, err := m.codec.Encode(subjectKey, counter, m.access.name)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := m.codec.Encode(subjectKey, counter, m.refresh.name)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		SubjectKey:       subjectKey,
		RefreshCounter:   counter,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// accountFromToken decodes token under ref and loads the account it names.
// A missing account or a stale counter is unauthorized.
func (m *SessionManager) accountFromToken(ctx context.Context, token string, ref policyRef) (*Account, *SessionClaims, error) {
	claims, err := m.codec.Decode(token, ref.id)
	if err != nil {
		return nil, nil, err
	}

	account, err := m.accounts.FetchByKey(ctx, claims.SubjectKey, claims.RefreshCounter)
	if err != nil {
		if isAccountNotFound(err) {
			m.logger.Debug("token subject not found", "policy", ref.name, "subject_key", claims.SubjectKey)
			return nil, claims, unauthorized("stale_token")
		}
		return nil, claims, storeError(err, "failed to fetch account")
	}

	return account, claims, nil
}

// dummyHash is compared against when an email is unknown so login time
// does not reveal whether the account exists
func (m *SessionManager) dummyHash() string {
	m.dummyOnce.Do(func() {
		h, err := m.passwords.HashPassword("no-such-account-password")
		if err != nil {
			m.logger.Warn("failed to build dummy password hash", "error", err)
			return
		}
		m.dummy = h
	})
	return m.dummy
}

func (m *SessionManager) emit(ctx context.Context, eventType ActivityEventType, account *Account, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}

	if account != nil {
		event.SubjectKey = account.SubjectKey
		event.Email = account.Email
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink record error", "event", string(eventType), "error", err)
	}
}

func isAccountNotFound(err error) bool {
	return HasTextCode(err, TextCodeAccountNotFound)
}

func deliveryError(err error, kind string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deliver "+kind+" email").
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeDeliveryFailed)
}
