package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docrefinery/server/internal/repositories"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// paginationOpts reads "limit" and "offset" query parameters, clamping limit
// to [1, maxListLimit] and defaulting to defaultListLimit when absent or
// unparseable.
func paginationOpts(r *http.Request) repositories.ListOptions {
	opts := repositories.ListOptions{Limit: defaultListLimit}
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

// pathUUID parses the named chi URL parameter as a UUID, writing a 404 (not
// a 400) on failure — an unparseable id is treated the same as a missing
// one, the same opaque-to-enumeration posture used for cross-tenant
// lookups.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		ErrNotFound(w)
		return uuid.UUID{}, false
	}
	return id, true
}

// queryUUID parses an optional query parameter as a UUID. id is nil and
// invalid is true when the parameter was present but unparseable — callers
// use this to mark a JobFilter Invalid rather than erroring.
func queryUUID(r *http.Request, name string) (id *uuid.UUID, invalid bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return nil, true
	}
	return &parsed, false
}

// queryTime parses an optional query parameter using the ISO-8601 variants
// the API accepts: "T" or space date/time separator, optional "Z" suffix.
func queryTime(r *http.Request, name string) (t *time.Time, invalid bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			utc := parsed.UTC()
			return &utc, false
		}
	}
	return nil, true
}
