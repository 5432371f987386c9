package auth

import "context"

type contextKey string

const resolvedContextKey contextKey = "auth.resolved"

// WithResolved attaches a Resolved key/tenant pair to ctx.
func WithResolved(ctx context.Context, r *Resolved) context.Context {
	return context.WithValue(ctx, resolvedContextKey, r)
}

// FromContext retrieves the Resolved key/tenant pair set by the
// authentication middleware, if any.
func FromContext(ctx context.Context) (*Resolved, bool) {
	r, ok := ctx.Value(resolvedContextKey).(*Resolved)
	return r, ok
}
