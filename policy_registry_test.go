package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-session-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPolicyRegistry_LoadIsIdempotent(t *testing.T) {
	store := &MockPolicyStore{}
	store.On("ListPolicies", mock.Anything).Return(testPolicies(), nil).Once()

	registry := auth.NewPolicyRegistry(store).WithLogger(nopLogger{})
	assert.False(t, registry.Loaded())

	require.NoError(t, registry.Load(context.Background()))
	require.NoError(t, registry.Load(context.Background()))

	assert.True(t, registry.Loaded())
	store.AssertNumberOfCalls(t, "ListPolicies", 1)
}

func TestPolicyRegistry_Resolve(t *testing.T) {
	registry, err := auth.NewStaticPolicyRegistry(testPolicies()...)
	require.NoError(t, err)

	id, err := registry.ResolveIDByName(policyRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	p, ok := registry.ResolveByID(3)
	require.True(t, ok)
	assert.Equal(t, policyConfirm, p.Name)

	p, ok = registry.ResolveByName(policyForgot)
	require.True(t, ok)
	assert.Equal(t, int64(4), p.ID)

	_, ok = registry.ResolveByID(99)
	assert.False(t, ok)

	_, ok = registry.ResolveByName("missing")
	assert.False(t, ok)

	policies := registry.Policies()
	require.Len(t, policies, 4)
	assert.Equal(t, int64(1), policies[0].ID)
	assert.Equal(t, int64(4), policies[3].ID)
}

func TestPolicyRegistry_UnknownNameIsConfigurationError(t *testing.T) {
	registry, err := auth.NewStaticPolicyRegistry(testPolicies()...)
	require.NoError(t, err)

	_, err = registry.ResolveIDByName("admin")
	require.Error(t, err)
	assert.Equal(t, auth.KindConfiguration, auth.KindOf(err))

	assert.Panics(t, func() {
		registry.MustResolveIDByName("admin")
	})
}

func TestPolicyRegistry_NotLoaded(t *testing.T) {
	registry := auth.NewPolicyRegistry(&MockPolicyStore{})

	_, ok := registry.ResolveByName(policyAccess)
	assert.False(t, ok)

	_, err := registry.ResolveIDByName(policyAccess)
	assert.Equal(t, auth.KindConfiguration, auth.KindOf(err))
	assert.Nil(t, registry.Policies())
}

func TestPolicyRegistry_RejectsDuplicates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*auth.AccessPolicy)
	}{
		{
			name:   "duplicate name",
			mutate: func(p []*auth.AccessPolicy) { p[1].Name = p[0].Name },
		},
		{
			name:   "duplicate secret",
			mutate: func(p []*auth.AccessPolicy) { p[2].SigningSecret = p[0].SigningSecret },
		},
		{
			name:   "duplicate id",
			mutate: func(p []*auth.AccessPolicy) { p[3].ID = p[0].ID },
		},
		{
			name:   "bad unit",
			mutate: func(p []*auth.AccessPolicy) { p[0].DurationUnit = "weeks" },
		},
		{
			name:   "short secret",
			mutate: func(p []*auth.AccessPolicy) { p[0].SigningSecret = "short" },
		},
		{
			name:   "unsupported algorithm",
			mutate: func(p []*auth.AccessPolicy) { p[0].Algorithm = "RS256" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policies := testPolicies()
			tt.mutate(policies)

			store := &MockPolicyStore{}
			store.On("ListPolicies", mock.Anything).Return(policies, nil)

			registry := auth.NewPolicyRegistry(store).WithLogger(nopLogger{})
			err := registry.Load(context.Background())
			require.Error(t, err)
			assert.Equal(t, auth.KindConfiguration, auth.KindOf(err))
			assert.False(t, registry.Loaded())
		})
	}
}

func TestPolicyRegistry_StoreFailure(t *testing.T) {
	store := &MockPolicyStore{}
	store.On("ListPolicies", mock.Anything).Return(nil, errors.New("connection refused")).Once()
	store.On("ListPolicies", mock.Anything).Return(testPolicies(), nil).Once()

	registry := auth.NewPolicyRegistry(store).WithLogger(nopLogger{})

	err := registry.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))

	require.NoError(t, registry.Load(context.Background()))
	assert.True(t, registry.Loaded())
}

func TestPolicyRegistry_NormalizesShortUnits(t *testing.T) {
	policies := testPolicies()
	policies[0].DurationUnit = "m"
	policies[0].Algorithm = ""

	registry, err := auth.NewStaticPolicyRegistry(policies...)
	require.NoError(t, err)

	p, ok := registry.ResolveByName(policyAccess)
	require.True(t, ok)
	assert.Equal(t, auth.UnitMinutes, p.DurationUnit)
	assert.Equal(t, auth.DefaultAlgorithm, p.Algorithm)
}
