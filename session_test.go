package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-session-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type sessionFixture struct {
	manager  *auth.SessionManager
	accounts auth.AccountStore
	outbox   *outbox
	sink     *recordingSink
	clock    *fakeClock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	repo, _ := setupRepositoryManager(t)
	return newSessionFixtureWithStore(t, repo.Accounts())
}

func newSessionFixtureWithStore(t *testing.T, accounts auth.AccountStore) *sessionFixture {
	t.Helper()

	registry, err := auth.NewStaticPolicyRegistry(testPolicies()...)
	require.NoError(t, err)

	box := newOutbox()
	sink := &recordingSink{}
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}

	manager, err := auth.NewSessionManager(testConfig{}, registry, accounts, box)
	require.NoError(t, err)

	manager.
		WithLogger(nopLogger{}).
		WithActivitySink(sink).
		WithPasswordAuthenticator(auth.NewBcryptHasher(bcrypt.MinCost)).
		WithClock(clock.Now)

	return &sessionFixture{
		manager:  manager,
		accounts: accounts,
		outbox:   box,
		sink:     sink,
		clock:    clock,
	}
}

func (f *sessionFixture) registerConfirmed(t *testing.T, email, password string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.manager.Register(ctx, auth.RegisterMessage{Email: email, Password: password, Confirmation: password})
	require.NoError(t, err)

	token := f.outbox.confirmToken(email)
	require.NotEmpty(t, token)
	require.NoError(t, f.manager.Confirm(ctx, auth.ConfirmMessage{Token: token, Email: email}))
}

func TestSessionManager_Scenario(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	account, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "a@x.com", Password: "p1", Confirmation: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 0, account.RefreshCounter)
	assert.False(t, account.Confirmed)

	confirmToken := f.outbox.confirmToken("a@x.com")
	require.NotEmpty(t, confirmToken)

	require.NoError(t, f.manager.Confirm(ctx, auth.ConfirmMessage{Token: confirmToken, Email: "a@x.com"}))

	stored, err := f.accounts.FetchByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, stored.Confirmed)

	pair, err := f.manager.Login(ctx, auth.LoginMessage{Email: "a@x.com", Password: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 0, pair.RefreshCounter)

	access, err := f.manager.Codec().Decode(pair.AccessToken, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, access.RefreshCounter)
	assert.Equal(t, account.SubjectKey, access.SubjectKey)

	rotated, err := f.manager.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated.RefreshCounter)

	refreshClaims, err := f.manager.Codec().Decode(rotated.RefreshToken, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshClaims.RefreshCounter)

	_, err = f.manager.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	profile, err := f.manager.Profile(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)

	_, err = f.manager.Profile(ctx, pair.AccessToken)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	assert.Contains(t, f.sink.types(), auth.ActivityEventRefreshReuse)
}

func TestSessionManager_RefreshIsSingleUse(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "single@x.com", "pw")

	pair, err := f.manager.Login(ctx, auth.LoginMessage{Email: "single@x.com", Password: "pw"})
	require.NoError(t, err)

	current := pair
	for i := 1; i <= 3; i++ {
		next, err := f.manager.Refresh(ctx, current.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, i, next.RefreshCounter)

		_, err = f.manager.Refresh(ctx, current.RefreshToken)
		assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

		current = next
	}
}

func TestSessionManager_ConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "race@x.com", "pw")

	pair, err := f.manager.Login(ctx, auth.LoginMessage{Email: "race@x.com", Password: "pw"})
	require.NoError(t, err)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			if auth.KindOf(err) == auth.KindUnauthorized {
				losers++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, losers)
}

func TestSessionManager_ConfirmTwiceConflicts(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "twice@x.com", Password: "pw", Confirmation: "pw"})
	require.NoError(t, err)
	token := f.outbox.confirmToken("twice@x.com")

	require.NoError(t, f.manager.Confirm(ctx, auth.ConfirmMessage{Token: token, Email: "twice@x.com"}))

	err = f.manager.Confirm(ctx, auth.ConfirmMessage{Token: token, Email: "twice@x.com"})
	require.Error(t, err)
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAlreadyConfirmed))
}

func TestSessionManager_ConfirmRejectsOtherEmailAndPolicy(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "c@x.com", Password: "pw", Confirmation: "pw"})
	require.NoError(t, err)
	token := f.outbox.confirmToken("c@x.com")

	err = f.manager.Confirm(ctx, auth.ConfirmMessage{Token: token, Email: "other@x.com"})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	access, _, err := f.manager.Codec().Encode("whatever", 0, policyAccess)
	require.NoError(t, err)
	err = f.manager.Confirm(ctx, auth.ConfirmMessage{Token: access, Email: "c@x.com"})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
}

func TestSessionManager_LoginOutcomes(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "pending@x.com", Password: "pw", Confirmation: "pw"})
	require.NoError(t, err)
	f.registerConfirmed(t, "ok@x.com", "pw")

	tests := []struct {
		name string
		msg  auth.LoginMessage
		kind auth.ErrorKind
	}{
		{"unknown email", auth.LoginMessage{Email: "nobody@x.com", Password: "pw"}, auth.KindInvalidCredentials},
		{"wrong password", auth.LoginMessage{Email: "ok@x.com", Password: "nope"}, auth.KindInvalidCredentials},
		{"wrong password unconfirmed", auth.LoginMessage{Email: "pending@x.com", Password: "nope"}, auth.KindInvalidCredentials},
		{"unconfirmed", auth.LoginMessage{Email: "pending@x.com", Password: "pw"}, auth.KindAccountNotConfirmed},
		{"invalid payload", auth.LoginMessage{Email: "ok@x.com"}, auth.KindValidation},
		{"ok", auth.LoginMessage{Email: "OK@x.com", Password: "pw"}, auth.KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Login(ctx, tt.msg)
			assert.Equal(t, tt.kind, auth.KindOf(err))
		})
	}

	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "pending@x.com", Password: "pw"})
	assert.Equal(t, 403, auth.StatusCode(err))
	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "ok@x.com", Password: "nope"})
	assert.Equal(t, 400, auth.StatusCode(err))
}

func TestSessionManager_RegisterValidation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "v@x.com", Password: "p1", Confirmation: "p2"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodePasswordMismatch))
	assert.Equal(t, auth.KindValidation, auth.KindOf(err))

	_, err = f.manager.Register(ctx, auth.RegisterMessage{Email: "v@x.com", Password: "p1", Confirmation: "p1"})
	require.NoError(t, err)

	_, err = f.manager.Register(ctx, auth.RegisterMessage{Email: "V@x.com", Password: "p1", Confirmation: "p1"})
	assert.Equal(t, auth.KindConflict, auth.KindOf(err))
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountExists))
}

func TestSessionManager_RegisterSurvivesDeliveryFailure(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.outbox.fail(errors.New("smtp down"))

	account, err := f.manager.Register(ctx, auth.RegisterMessage{Email: "d@x.com", Password: "pw", Confirmation: "pw"})
	require.NoError(t, err)
	assert.NotNil(t, account)
	assert.Contains(t, f.sink.types(), auth.ActivityEventConfirmationFailed)

	err = f.manager.ResendConfirmation(ctx, auth.EmailMessage{Email: "d@x.com"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeDeliveryFailed))

	f.outbox.fail(nil)
	require.NoError(t, f.manager.ResendConfirmation(ctx, auth.EmailMessage{Email: "d@x.com"}))
	assert.NotEmpty(t, f.outbox.confirmToken("d@x.com"))
}

func TestSessionManager_ResendConfirmation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	err := f.manager.ResendConfirmation(ctx, auth.EmailMessage{Email: "ghost@x.com"})
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	assert.Equal(t, 404, auth.StatusCode(err))

	_, err = f.manager.Register(ctx, auth.RegisterMessage{Email: "r@x.com", Password: "pw", Confirmation: "pw"})
	require.NoError(t, err)
	first := f.outbox.confirmToken("r@x.com")

	f.clock.Advance(time.Second)
	require.NoError(t, f.manager.ResendConfirmation(ctx, auth.EmailMessage{Email: "r@x.com"}))
	second := f.outbox.confirmToken("r@x.com")
	assert.NotEqual(t, first, second)

	// both tokens embed the same counter, the first still confirms
	require.NoError(t, f.manager.Confirm(ctx, auth.ConfirmMessage{Token: first, Email: "r@x.com"}))

	err = f.manager.ResendConfirmation(ctx, auth.EmailMessage{Email: "r@x.com"})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
}

func TestSessionManager_ForgotAndResetPassword(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "reset@x.com", "old")

	err := f.manager.ForgotPassword(ctx, auth.EmailMessage{Email: "ghost@x.com"})
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

	require.NoError(t, f.manager.ForgotPassword(ctx, auth.EmailMessage{Email: "reset@x.com"}))
	token := f.outbox.resetToken("reset@x.com")
	require.NotEmpty(t, token)

	err = f.manager.ResetPassword(ctx, auth.ResetPasswordMessage{Token: token, Password: "new", Confirmation: "other"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodePasswordMismatch))

	confirmToken := f.outbox.confirmToken("reset@x.com")
	err = f.manager.ResetPassword(ctx, auth.ResetPasswordMessage{Token: confirmToken, Password: "new", Confirmation: "new"})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	require.NoError(t, f.manager.ResetPassword(ctx, auth.ResetPasswordMessage{Token: token, Password: "new", Confirmation: "new"}))

	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "reset@x.com", Password: "old"})
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "reset@x.com", Password: "new"})
	require.NoError(t, err)
}

func TestSessionManager_ChangePassword(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "change@x.com", "old")

	pair, err := f.manager.Login(ctx, auth.LoginMessage{Email: "change@x.com", Password: "old"})
	require.NoError(t, err)

	err = f.manager.ChangePassword(ctx, auth.ChangePasswordMessage{Token: pair.AccessToken, OldPassword: "old", Password: "old", Confirmation: "old"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodePasswordUnchanged))

	err = f.manager.ChangePassword(ctx, auth.ChangePasswordMessage{Token: pair.AccessToken, OldPassword: "wrong", Password: "new", Confirmation: "new"})
	assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

	err = f.manager.ChangePassword(ctx, auth.ChangePasswordMessage{Token: pair.RefreshToken, Password: "new", Confirmation: "new"})
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	require.NoError(t, f.manager.ChangePassword(ctx, auth.ChangePasswordMessage{Token: pair.AccessToken, OldPassword: "old", Password: "new", Confirmation: "new"}))

	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "change@x.com", Password: "new"})
	require.NoError(t, err)
	assert.Contains(t, f.sink.types(), auth.ActivityEventPasswordChanged)
}

func TestSessionManager_Logout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.registerConfirmed(t, "out@x.com", "pw")

	pair, err := f.manager.Login(ctx, auth.LoginMessage{Email: "out@x.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, f.manager.Logout(ctx, pair.AccessToken, pair.RefreshToken))

	err = f.manager.Logout(ctx, pair.AccessToken, "")
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	err = f.manager.Logout(ctx, pair.RefreshToken, pair.AccessToken)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))

	// logout does not revoke, the access token stays usable until it expires
	_, err = f.manager.Profile(ctx, pair.AccessToken)
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.manager.Profile(ctx, pair.AccessToken)
	assert.Equal(t, auth.KindUnauthorized, auth.KindOf(err))
}

func TestNewSessionManager_UnknownPolicyIsConfigurationError(t *testing.T) {
	policies := testPolicies()[:2]
	registry, err := auth.NewStaticPolicyRegistry(policies...)
	require.NoError(t, err)

	_, err = auth.NewSessionManager(testConfig{}, registry, &MockAccountStore{}, &MockMailer{})
	require.Error(t, err)
	assert.Equal(t, auth.KindConfiguration, auth.KindOf(err))
}

func TestSessionManager_StoreFailures(t *testing.T) {
	store := &MockAccountStore{}
	f := newSessionFixtureWithStore(t, store)
	ctx := context.Background()

	store.On("FetchByEmail", mock.Anything, "down@x.com").Return(nil, errors.New("connection reset")).Once()
	_, err := f.manager.Login(ctx, auth.LoginMessage{Email: "down@x.com", Password: "pw"})
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	assert.Equal(t, 500, auth.StatusCode(err))

	store.On("FetchByEmail", mock.Anything, "slow@x.com").Return(nil, context.DeadlineExceeded).Once()
	_, err = f.manager.Login(ctx, auth.LoginMessage{Email: "slow@x.com", Password: "pw"})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeStoreUnavailable))
	assert.Equal(t, 503, auth.StatusCode(err))

	store.AssertExpectations(t)
}

func TestSessionManager_CancelledContext(t *testing.T) {
	f := newSessionFixtureWithStore(t, &MockAccountStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.Login(ctx, auth.LoginMessage{Email: "a@x.com", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))
}
