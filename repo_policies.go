package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// PolicyRepository reads and provisions access policies
type PolicyRepository struct {
	db *bun.DB
}

var _ PolicyStore = (*PolicyRepository)(nil)

func NewPolicyRepository(db *bun.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// ListPolicies returns every policy ordered by id
func (p *PolicyRepository) ListPolicies(ctx context.Context) ([]*AccessPolicy, error) {
	var records []*AccessPolicy
	if err := p.db.NewSelect().Model(&records).OrderExpr("?TableAlias.id ASC").Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return []*AccessPolicy{}, nil
		}
		return nil, err
	}
	return records, nil
}

// GetByName returns the named policy
func (p *PolicyRepository) GetByName(ctx context.Context, name string) (*AccessPolicy, error) {
	record := &AccessPolicy{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{"policy": name})
		}
		return nil, err
	}
	return record, nil
}

// Create validates and inserts a policy. Names and secrets are unique.
func (p *PolicyRepository) Create(ctx context.Context, policy *AccessPolicy) (*AccessPolicy, error) {
	if policy.Algorithm == "" {
		policy.Algorithm = DefaultAlgorithm
	}

	unit, err := ParseDurationUnit(policy.DurationUnit)
	if err == nil {
		policy.DurationUnit = unit
	}

	if err := validatePayload(policy); err != nil {
		return nil, err
	}

	if _, err := p.db.NewInsert().Model(policy).Returning("*").Exec(ctx); err != nil {
		if isUniqueConstraintError(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "access policy already exists").
				WithCode(goerrors.CodeConflict).
				WithTextCode(TextCodeConfiguration).
				WithMetadata(map[string]any{"policy": policy.Name})
		}
		return nil, err
	}

	return policy, nil
}
