package auth

import (
	"context"
)

// ForgotPassword mails a password reset token to a known account
func (m *SessionManager) ForgotPassword(ctx context.Context, msg EmailMessage) error {
	ctx, cancel, err := m.begin(ctx, "forgot password")
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

	token, _, err := m.codec.Encode(account.SubjectKey, account.RefreshCounter, m.forgot.name)
	if err != nil {
		return err
	}

	if err := m.mailer.SendPasswordReset(ctx, account.Email, token); err != nil {
		return deliveryError(err, "password reset")
	}

	m.emit(ctx, ActivityEventPasswordResetRequest, account, nil)

	return nil
}

// ResetPassword replaces the password of the account named by a forgot
// password token. The refresh counter is not changed.
func (m *SessionManager) ResetPassword(ctx context.Context, msg ResetPasswordMessage) error {
	ctx, cancel, err := m.begin(ctx, "reset password")
	if err != nil {
		return err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return err
	}

	if err := passwordsMatch(msg.Password, msg.Confirmation); err != nil {
		return err
	}

	account, _, err := m.accountFromToken(ctx, msg.Token, m.forgot)
	if err != nil {
		return err
	}

	if err := m.replacePassword(ctx, account, msg.Password); err != nil {
		return err
	}

	m.emit(ctx, ActivityEventPasswordReset, account, nil)

	return nil
}

// ChangePassword replaces the password of the account behind an access
// token. When OldPassword is set it must match and differ from the new one.
func (m *SessionManager) ChangePassword(ctx context.Context, msg ChangePasswordMessage) error {
	ctx, cancel, err := m.begin(ctx, "change password")
	if err != nil {
		return err
	}
	defer cancel()

	if err := validatePayload(msg); err != nil {
		return err
	}

	if err := passwordsMatch(msg.Password, msg.Confirmation); err != nil {
		return err
	}

	account, _, err := m.accountFromToken(ctx, msg.Token, m.access)
	if err != nil {
		return err
	}

	if msg.OldPassword != "" {
		if msg.OldPassword == msg.Password {
			return ErrPasswordUnchanged.Clone()
		}
		if err := m.passwords.ComparePasswordAndHash(msg.OldPassword, account.PasswordHash); err != nil {
			return err
		}
	}

	if err := m.replacePassword(ctx, account, msg.Password); err != nil {
		return err
	}

	m.emit(ctx, ActivityEventPasswordChanged, account, nil)

	return nil
}

func (m *SessionManager) replacePassword(ctx context.Context, account *Account, password string) error {
	hash, err := m.passwords.HashPassword(password)
	if err != nil {
		return err
	}

	if err := m.accounts.UpdateHashedPassword(ctx, account.ID, hash); err != nil {
		return storeError(err, "failed to update password")
	}

	return nil
}
