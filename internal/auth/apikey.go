// Package auth resolves the Authorization header of an inbound request to a
// tenant-scoped API key, replacing the JWT/OIDC user-session model with the
// spec's per-tenant key authentication: there is no human login here, only
// machine credentials presented on every call.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

const authKeyword = "Api-Key"

// touchThrottle mirrors the original's "don't hammer the row on every
// request" behavior: last_used_at is only updated once per window.
const touchThrottle = time.Hour

// Resolved is what a successful Resolve or ResolveHeader call hands the request
// pipeline: the key row and its owning tenant, loaded once so downstream
// handlers never need to query either again.
type Resolved struct {
	Key    *db.ApiKey
	Tenant *db.Tenant
}

// Resolver authenticates API keys against the database.
type Resolver struct {
	keys            repositories.ApiKeyRepository
	tenants         repositories.TenantRepository
	fingerprintKey  []byte
	now             func() time.Time
}

// NewResolver builds a Resolver. fingerprintKey should come from
// DeriveFingerprintKey, called once at startup with the process secret.
func NewResolver(keys repositories.ApiKeyRepository, tenants repositories.TenantRepository, fingerprintKey []byte) *Resolver {
	return &Resolver{
		keys:           keys,
		tenants:        tenants,
		fingerprintKey: fingerprintKey,
		now:            time.Now,
	}
}

// ResolveHeader parses an "Authorization: Api-Key <token>" header and
// resolves it to a tenant-scoped key, touching last_used_at if the previous
// touch is older than touchThrottle.
func (r *Resolver) ResolveHeader(ctx context.Context, header string) (*Resolved, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingCredential
	}

	keyword, rawKey, ok := strings.Cut(header, " ")
	if !ok || keyword != authKeyword {
		return nil, ErrMalformedCredential
	}
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, ErrMalformedCredential
	}

	return r.Resolve(ctx, rawKey)
}

// Resolve authenticates a raw API key token directly (used by the header
// parser above, and directly by tests).
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (*Resolved, error) {
	candidate, err := r.keys.GetActiveByPrefix(ctx, Prefix(rawKey))
	if err != nil {
		return nil, ErrKeyNotFound
	}

	want := Fingerprint(r.fingerprintKey, rawKey)
	if !FingerprintEqual(want, candidate.Fingerprint) {
		return nil, ErrKeyNotFound
	}

	tenant, err := r.tenants.GetByID(ctx, candidate.TenantID)
	if err != nil {
		return nil, ErrKeyNotFound
	}
	if !tenant.Active {
		return nil, ErrTenantInactive
	}

	r.touchLastUsed(ctx, candidate)

	return &Resolved{Key: candidate, Tenant: tenant}, nil
}

func (r *Resolver) touchLastUsed(ctx context.Context, key *db.ApiKey) {
	now := r.now()
	if key.LastUsedAt != nil && now.Sub(*key.LastUsedAt) < touchThrottle {
		return
	}
	// Best-effort; a failed touch never fails the request it authenticated.
	_ = r.keys.TouchLastUsed(ctx, key.ID, now)
}

// HasScope reports whether the resolved key carries the given scope.
func (rv *Resolved) HasScope(scope string) bool {
	for _, s := range rv.Key.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}
