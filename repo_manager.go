package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() *AccountRepository
	Policies() *PolicyRepository
}

type mngr struct {
	db       *bun.DB
	accounts *AccountRepository
	policies *PolicyRepository
}

// NewRepositoryManager creates the bun backed account and policy stores
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	m := &mngr{
		db:       db,
		policies: NewPolicyRepository(db),
	}
	m.accounts = NewAccountRepository(db, m)
	return m
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.policies == nil {
		return errors.New("repository policies should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() *AccountRepository {
	return m.accounts
}

func (m mngr) Policies() *PolicyRepository {
	return m.policies
}
