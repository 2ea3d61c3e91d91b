package auth

import (
	"context"
)

// Register creates an unconfirmed account with a zero refresh counter and
// mails a confirmation token. A failed delivery does not undo the account,
// the user can ask for the token again.
func (m *SessionManager) Register(ctx context.Context, msg RegisterMessage) (*Account, error) {
	ctx, cancel, err := m.begin(ctx, "register")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return nil, err
	}

	if err := passwordsMatch(msg.Password, msg.Confirmation); err != nil {
		return nil, err
	}

	email := NormalizeEmail(msg.Email)

	if _, err := m.accounts.FetchByEmail(ctx, email); err == nil {
		return nil, ErrAccountExists.Clone()
	} else if !isAccountNotFound(err) {
		return nil, storeError(err, "failed to check existing account")
	}

	hash, err := m.passwords.HashPassword(msg.Password)
	if err != nil {
		return nil, err
	}

	account, err := m.accounts.Create(ctx, NewAccount(email, hash))
	if err != nil {
		return nil, storeError(err, "failed to create account")
	}

	m.emit(ctx, ActivityEventRegistered, account, nil)

	if err := m.sendConfirmation(ctx, account); err != nil {
		m.logger.Error("confirmation delivery failed after registration", "subject_key", account.SubjectKey, "error", err)
	}

	return account, nil
}

// Confirm flips the confirmed flag of the account named by a confirmation
// token. The email in the request must match the account.
func (m *SessionManager) Confirm(ctx context.Context, msg ConfirmMessage) error {
	ctx, cancel, err := m.begin(ctx, "confirm")
	if err != nil {
		return err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return err
	}

	account, _, err := m.accountFromToken(ctx, msg.Token, m.confirm)
	if err != nil {
		return err
	}

	if NormalizeEmail(msg.Email) != NormalizeEmail(account.Email) {
		return unauthorized("email_mismatch")
	}

	if account.Confirmed {
		return ErrAlreadyConfirmed.Clone()
	}

	if err := m.accounts.UpdateConfirmed(ctx, account.ID); err != nil {
		return storeError(err, "failed to confirm account")
	}

	m.emit(ctx, ActivityEventConfirmed, account, nil)

	return nil
}

// ResendConfirmation mails a new confirmation token. The token embeds the
// current counter, so earlier confirmation tokens stay valid as well.
func (m *SessionManager) ResendConfirmation(ctx context.Context, msg EmailMessage) error {
	ctx, cancel, err := m.begin(ctx, "resend confirmation")
	if err != nil {
		return err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return err
	}

	account, err := m.accounts.FetchByEmail(ctx, NormalizeEmail(msg.Email))
	if err != nil {
		if isAccountNotFound(err) {
			return ErrAccountNotFound.Clone()
		}
		return storeError(err, "failed to fetch account")
	}

	if account.Confirmed {
		return unauthorized("already_confirmed")
	}

	return m.sendConfirmation(ctx, account)
}

func (m *SessionManager) sendConfirmation(ctx context.Context, account *Account) error {
	token, _, err := m.codec.Encode(account.SubjectKey, account.RefreshCounter, m.confirm.name)
	if err != nil {
		return err
	}

	if err := m.mailer.SendConfirmation(ctx, account.Email, token); err != nil {
		m.emit(ctx, ActivityEventConfirmationFailed, account, map[string]any{"error": err.Error()})
		return deliveryError(err, "confirmation")
	}

	m.emit(ctx, ActivityEventConfirmationSent, account, nil)

	return nil
}
