package auth

import "errors"

// Sentinel errors returned by the API key resolver. Callers should use
// errors.Is for comparison.
var (
	// ErrMissingCredential is returned when no Authorization header, or an
	// empty one, was presented.
	ErrMissingCredential = errors.New("auth: missing api key")

	// ErrMalformedCredential is returned when the Authorization header is
	// present but not in the "Api-Key <token>" form.
	ErrMalformedCredential = errors.New("auth: malformed authorization header")

	// ErrKeyNotFound is returned when no active key matches the presented
	// prefix, or the fingerprint comparison fails.
	ErrKeyNotFound = errors.New("auth: api key not found or inactive")

	// ErrTenantInactive is returned when the key's tenant has been
	// deactivated.
	ErrTenantInactive = errors.New("auth: tenant inactive")

	// ErrScopeDenied reports that the resolved key lacks a required scope.
	// RequireScope answers that case with a 403 response itself and does
	// not return this error.
	ErrScopeDenied = errors.New("auth: scope denied")
)
