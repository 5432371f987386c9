package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

type fakeKeyRepo struct {
	byPrefix      map[string]*db.ApiKey
	byFingerprint map[string]*db.ApiKey
	touched       map[uuid.UUID]time.Time
}

func (f *fakeKeyRepo) Create(ctx context.Context, key *db.ApiKey) error { return nil }
func (f *fakeKeyRepo) GetByID(ctx context.Context, id uuid.UUID) (*db.ApiKey, error) {
	return nil, repositories.ErrNotFound
}
func (f *fakeKeyRepo) GetActiveByPrefix(ctx context.Context, prefix string) (*db.ApiKey, error) {
	k, ok := f.byPrefix[prefix]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return k, nil
}
func (f *fakeKeyRepo) GetByFingerprint(ctx context.Context, fp string) (*db.ApiKey, error) {
	k, ok := f.byFingerprint[fp]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return k, nil
}
func (f *fakeKeyRepo) Update(ctx context.Context, key *db.ApiKey) error { return nil }
func (f *fakeKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.touched == nil {
		f.touched = map[uuid.UUID]time.Time{}
	}
	f.touched[id] = at
	return nil
}
func (f *fakeKeyRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, opts repositories.ListOptions) ([]db.ApiKey, int64, error) {
	return nil, 0, nil
}

type fakeTenantRepo struct {
	tenants map[uuid.UUID]*db.Tenant
}

func (f *fakeTenantRepo) Create(ctx context.Context, t *db.Tenant) error { return nil }
func (f *fakeTenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*db.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return t, nil
}
func (f *fakeTenantRepo) GetBySlug(ctx context.Context, slug string) (*db.Tenant, error) {
	return nil, repositories.ErrNotFound
}
func (f *fakeTenantRepo) Update(ctx context.Context, t *db.Tenant) error { return nil }
func (f *fakeTenantRepo) List(ctx context.Context, opts repositories.ListOptions) ([]db.Tenant, int64, error) {
	return nil, 0, nil
}

func setupResolver(t *testing.T) (*Resolver, string, uuid.UUID) {
	t.Helper()
	fpKey, err := DeriveFingerprintKey([]byte("test-master-secret"))
	require.NoError(t, err)

	rawKey, prefix, fingerprint, err := GenerateRawKey(fpKey)
	require.NoError(t, err)

	tenantID := uuid.New()
	apiKey := &db.ApiKey{
		TenantID:    tenantID,
		Prefix:      prefix,
		Fingerprint: fingerprint,
		Active:      true,
		Scopes:      `["documents:write","jobs:read"]`,
	}

	keys := &fakeKeyRepo{
		byPrefix:      map[string]*db.ApiKey{prefix: apiKey},
		byFingerprint: map[string]*db.ApiKey{fingerprint: apiKey},
	}
	tenants := &fakeTenantRepo{tenants: map[uuid.UUID]*db.Tenant{tenantID: {Active: true}}}

	return NewResolver(keys, tenants, fpKey), rawKey, tenantID
}

func TestResolveHeaderSucceeds(t *testing.T) {
	resolver, rawKey, tenantID := setupResolver(t)

	resolved, err := resolver.ResolveHeader(context.Background(), "Api-Key "+rawKey)
	require.NoError(t, err)
	assert.Equal(t, tenantID, resolved.Key.TenantID)
	assert.True(t, resolved.HasScope("documents:write"))
	assert.False(t, resolved.HasScope("admin:all"))
}

func TestResolveHeaderRejectsWrongKeyword(t *testing.T) {
	resolver, rawKey, _ := setupResolver(t)
	_, err := resolver.ResolveHeader(context.Background(), "Bearer "+rawKey)
	assert.ErrorIs(t, err, ErrMalformedCredential)
}

func TestResolveRejectsTamperedKey(t *testing.T) {
	resolver, rawKey, _ := setupResolver(t)
	tampered := rawKey[:len(rawKey)-1] + "x"
	_, err := resolver.Resolve(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestResolveMissingHeader(t *testing.T) {
	resolver, _, _ := setupResolver(t)
	_, err := resolver.ResolveHeader(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestResolveRejectsInactiveTenant(t *testing.T) {
	resolver, rawKey, tenantID := setupResolver(t)
	resolver.tenants.(*fakeTenantRepo).tenants[tenantID].Active = false

	_, err := resolver.Resolve(context.Background(), rawKey)
	assert.ErrorIs(t, err, ErrTenantInactive)
}
