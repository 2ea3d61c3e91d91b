package auth

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
)

type policyIndex struct {
	byName map[string]*AccessPolicy
	byID   map[int64]*AccessPolicy
}

// PolicyRegistry is the in memory index of access policies. It is populated
// once by Load and read without locking afterwards.
type PolicyRegistry struct {
	store  PolicyStore
	logger Logger
	mu     sync.Mutex
	index  atomic.Pointer[policyIndex]
}

// NewPolicyRegistry creates a registry backed by store
func NewPolicyRegistry(store PolicyStore) *PolicyRegistry {
	return &PolicyRegistry{
		store:  store,
		logger: defaultLogger(),
	}
}

// NewStaticPolicyRegistry creates a loaded registry from the given policies
func NewStaticPolicyRegistry(policies ...*AccessPolicy) (*PolicyRegistry, error) {
	r := &PolicyRegistry{logger: defaultLogger()}
	idx, err := buildPolicyIndex(policies)
	if err != nil {
		return nil, err
	}
	r.index.Store(idx)
	return r, nil
}

// WithLogger sets the logger
func (r *PolicyRegistry) WithLogger(logger Logger) *PolicyRegistry {
	r.logger = normalizeLogger(logger)
	return r
}

// Load fetches every policy from the store. Calls after a successful load
// return immediately without querying the store.
func (r *PolicyRegistry) Load(ctx context.Context) error {
	if r.index.Load() != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index.Load() != nil {
		return nil
	}

	if r.store == nil {
		return goerrors.New("policy registry has no store", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal).
			WithTextCode(TextCodeConfiguration)
	}

	policies, err := r.store.ListPolicies(ctx)
	if err != nil {
		return storeError(err, "failed to load access policies")
	}

	idx, err := buildPolicyIndex(policies)
	if err != nil {
		return err
	}

	r.index.Store(idx)
	r.logger.Info("access policies loaded", "count", len(idx.byID))

	return nil
}

// Loaded reports whether Load completed
func (r *PolicyRegistry) Loaded() bool {
	return r.index.Load() != nil
}

// ResolveIDByName returns the id of the named policy. An unknown name is a
// configuration defect.
func (r *PolicyRegistry) ResolveIDByName(name string) (int64, error) {
	p, ok := r.ResolveByName(name)
	if !ok {
		return 0, configurationError(name)
	}
	return p.ID, nil
}

// MustResolveIDByName is ResolveIDByName for startup wiring
func (r *PolicyRegistry) MustResolveIDByName(name string) int64 {
	id, err := r.ResolveIDByName(name)
	if err != nil {
		panic(err)
	}
	return id
}

// ResolveByID returns the policy with the given id
func (r *PolicyRegistry) ResolveByID(id int64) (*AccessPolicy, bool) {
	idx := r.index.Load()
	if idx == nil {
		return nil, false
	}
	p, ok := idx.byID[id]
	return p, ok
}

// ResolveByName returns the policy with the given name
func (r *PolicyRegistry) ResolveByName(name string) (*AccessPolicy, bool) {
	idx := r.index.Load()
	if idx == nil {
		return nil, false
	}
	p, ok := idx.byName[name]
	return p, ok
}

// Policies returns the loaded policies ordered by id
func (r *PolicyRegistry) Policies() []AccessPolicy {
	idx := r.index.Load()
	if idx == nil {
		return nil
	}

	out := make([]AccessPolicy, 0, len(idx.byID))
	for _, p := range idx.byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func buildPolicyIndex(policies []*AccessPolicy) (*policyIndex, error) {
	idx := &policyIndex{
		byName: make(map[string]*AccessPolicy, len(policies)),
		byID:   make(map[int64]*AccessPolicy, len(policies)),
	}
	secrets := make(map[string]string, len(policies))

	for _, p := range policies {
		if p == nil {
			continue
		}

		if err := p.Validate(); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid access policy").
				WithCode(goerrors.CodeInternal).
				WithTextCode(TextCodeConfiguration).
				WithMetadata(map[string]any{"policy": p.Name})
		}

		if _, dup := idx.byName[p.Name]; dup {
			return nil, duplicatePolicyError(p, "name")
		}

		if _, dup := idx.byID[p.ID]; dup {
			return nil, duplicatePolicyError(p, "id")
		}

		if other, dup := secrets[p.SigningSecret]; dup {
			return nil, duplicatePolicyError(p, "signing_secret").
				WithMetadata(map[string]any{"policy": p.Name, "shared_with": other})
		}

		cp := *p
		if cp.Algorithm == "" {
			cp.Algorithm = DefaultAlgorithm
		}
		cp.DurationUnit, _ = ParseDurationUnit(cp.DurationUnit)

		idx.byName[cp.Name] = &cp
		idx.byID[cp.ID] = &cp
		secrets[cp.SigningSecret] = cp.Name
	}

	return idx, nil
}

func duplicatePolicyError(p *AccessPolicy, field string) *goerrors.Error {
	return goerrors.New("duplicate access policy "+field, goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeConfiguration).
		WithMetadata(map[string]any{"policy": p.Name})
}
