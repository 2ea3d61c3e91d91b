package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IncrementRefreshCounterSQL advances the counter only when it still holds
// the expected value
var IncrementRefreshCounterSQL = `UPDATE "accounts"
SET
	"refresh_counter" = "refresh_counter" + 1,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "refresh_counter" = ?
	AND "deleted_at" IS NULL;`

// ConfirmAccountSQL flips the confirmed flag once
var ConfirmAccountSQL = `UPDATE "accounts"
SET
	"confirmed" = TRUE,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "confirmed" = FALSE
	AND "deleted_at" IS NULL;`

// UpdatePasswordHashSQL replaces the stored password hash
var UpdatePasswordHashSQL = `UPDATE "accounts"
SET
	"password_hash" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "deleted_at" IS NULL;`

// AccountRepository is the bun implementation of AccountStore
type AccountRepository struct {
	records repository.Repository[*Account]
	db      *bun.DB
	tx      repository.TransactionManager
	now     func() time.Time
}

var _ AccountStore = (*AccountRepository)(nil)

// NewAccountRepository creates an account store. Creation runs inside a
// transaction of tx.
func NewAccountRepository(db *bun.DB, tx repository.TransactionManager) *AccountRepository {
	records := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &AccountRepository{
		records: records,
		db:      db,
		tx:      tx,
		now:     time.Now,
	}
}

// FetchByKey returns the account with subjectKey only while its refresh
// counter equals expectedCounter
func (a *AccountRepository) FetchByKey(ctx context.Context, subjectKey string, expectedCounter int) (*Account, error) {
	return a.fetchByKeyTx(ctx, a.db, subjectKey, expectedCounter)
}

func (a *AccountRepository) fetchByKeyTx(ctx context.Context, tx bun.IDB, subjectKey string, expectedCounter int) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.subject_key = ?", subjectKey).
		Where("?TableAlias.refresh_counter = ?", expectedCounter).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{
				"subject_key": subjectKey,
			})
		}
		return nil, err
	}

	return record, nil
}

// FetchByEmail returns the account registered with email
func (a *AccountRepository) FetchByEmail(ctx context.Context, email string) (*Account, error) {
	return a.fetchByEmailTx(ctx, a.db, email)
}

func (a *AccountRepository) fetchByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound.Clone()
		}
		return nil, err
	}

	return record, nil
}

// Create inserts a new account. A taken email is ErrAccountExists.
func (a *AccountRepository) Create(ctx context.Context, account *Account) (*Account, error) {
	var created *Account

	err := a.tx.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := a.fetchByEmailTx(ctx, tx, account.Email); err == nil {
			return ErrAccountExists.Clone()
		} else if !isAccountNotFound(err) {
			return err
		}

		prepareAccountDefaults(account, a.now())

		record, err := a.records.CreateTx(ctx, tx, account)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrAccountExists.Clone()
			}
			return err
		}

		created = record
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create account").
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeInternal)
	}

	return created, nil
}

// UpdateConfirmed marks the account confirmed. An account that is already
// confirmed yields ErrAlreadyConfirmed.
func (a *AccountRepository) UpdateConfirmed(ctx context.Context, id uuid.UUID) error {
	affected, err := a.exec(ctx, ConfirmAccountSQL, a.now(), id)
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrAlreadyConfirmed.Clone().WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

// UpdateHashedPassword replaces the password hash
func (a *AccountRepository) UpdateHashedPassword(ctx context.Context, id uuid.UUID, hash string) error {
	affected, err := a.exec(ctx, UpdatePasswordHashSQL, hash, a.now(), id)
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

// IncrementCounterIfMatches advances the refresh counter with a single
// conditional update. ErrCounterMismatch means another rotation won.
func (a *AccountRepository) IncrementCounterIfMatches(ctx context.Context, id uuid.UUID, expected int) error {
	affected, err := a.exec(ctx, IncrementRefreshCounterSQL, a.now(), id, expected)
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrCounterMismatch.Clone().WithMetadata(map[string]any{
			"id":       id.String(),
			"expected": expected,
		})
	}

	return nil
}

func (a *AccountRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := a.db.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return affected, nil
}

func prepareAccountDefaults(account *Account, now time.Time) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	if account.SubjectKey == "" {
		account.SubjectKey = uuid.NewString()
	}

	account.Email = NormalizeEmail(account.Email)

	if account.CreatedAt == nil {
		account.CreatedAt = &now
	}

	if account.UpdatedAt == nil {
		account.UpdatedAt = &now
	}
}

func isUniqueConstraintError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
