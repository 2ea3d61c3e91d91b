package auth

import (
	"context"
)

// Login checks the credentials and issues an access and a refresh token
// embedding the current refresh counter. The counter is not changed.
func (m *SessionManager) Login(ctx context.Context, msg LoginMessage) (*TokenPair, error) {
	ctx, cancel, err := m.begin(ctx, "login")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return nil, err
	}

	email := NormalizeEmail(msg.Email)

	account, err := m.accounts.FetchByEmail(ctx, email)
	if err != nil {
		if !isAccountNotFound(err) {
			return nil, storeError(err, "failed to fetch account")
		}
		_ = m.passwords.ComparePasswordAndHash(msg.Password, m.dummyHash())
		m.emit(ctx, ActivityEventLoginFailure, nil, map[string]any{"reason": "unknown_email"})
		return nil, ErrInvalidCredentials.Clone()
	}

	if err := m.passwords.ComparePasswordAndHash(msg.Password, account.PasswordHash); err != nil {
		if KindOf(err) != KindInvalidCredentials {
			return nil, err
		}
		m.emit(ctx, ActivityEventLoginFailure, account, map[string]any{"reason": "password"})
		return nil, ErrInvalidCredentials.Clone()
	}

	// checked after the password so an unconfirmed state is only revealed
	// to someone who knows it
	if !account.Confirmed {
		m.emit(ctx, ActivityEventLoginFailure, account, map[string]any{"reason": "not_confirmed"})
		return nil, ErrAccountNotConfirmed.Clone()
	}

	pair, err := m.issuePair(account.SubjectKey, account.RefreshCounter)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventLoginSuccess, account, nil)

	return pair, nil
}

// Refresh rotates a refresh token. The token is accepted only while its
// counter equals the persisted one. The counter is advanced with a single
// conditional write so concurrent refreshes of the same token have exactly
// one winner.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel, err := m.begin(ctx, "refresh")
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, claims, err := m.accountFromToken(ctx, refreshToken, m.refresh)
	if err != nil {
		if claims != nil && KindOf(err) == KindUnauthorized {
			m.emit(ctx, ActivityEventRefreshReuse, nil, map[string]any{
				"subject_key": claims.SubjectKey,
				"counter":     claims.RefreshCounter,
			})
		}
		return nil, err
	}

	if err := m.accounts.IncrementCounterIfMatches(ctx, account.ID, claims.RefreshCounter); err != nil {
		if HasTextCode(err, TextCodeCounterMismatch) {
			m.logger.Warn("refresh token reuse detected", "subject_key", account.SubjectKey, "counter", claims.RefreshCounter)
			m.emit(ctx, ActivityEventRefreshReuse, account, map[string]any{"counter": claims.RefreshCounter})
			return nil, unauthorized("counter_mismatch")
		}
		return nil, storeError(err, "failed to rotate refresh counter")
	}

	pair, err := m.issuePair(account.SubjectKey, claims.RefreshCounter+1)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, ActivityEventRefreshSuccess, account, map[string]any{"counter": pair.RefreshCounter})

	return pair, nil
}

// Logout requires a valid access token and a valid refresh token. It does
// not touch the store: the transport drops the refresh cookie and issued
// access tokens stay valid until they expire.
func (m *SessionManager) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, cancel, err := m.begin(ctx, "logout")
	if err != nil {
		return err
	}
	defer cancel()

	access, err := m.codec.Decode(accessToken, m.access.id)
	if err != nil {
		return err
	}

	refresh, err := m.codec.Decode(refreshToken, m.refresh.id)
	if err != nil {
		return err
	}

	if access.SubjectKey != refresh.SubjectKey {
		return unauthorized("subject_mismatch")
	}

	m.emit(ctx, ActivityEventLogout, &Account{SubjectKey: access.SubjectKey}, nil)

	return nil
}

// Profile returns the public view of the account behind an access token
func (m *SessionManager) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, cancel, err := m.begin(ctx, "profile")
	if err != nil {
		return nil, err
	}
	defer cancel()

	account, _, err := m.accountFromToken(ctx, accessToken, m.access)
	if err != nil {
		return nil, err
	}

	return &Profile{
		SubjectKey: account.SubjectKey,
		Email:      account.Email,
	}, nil
}
