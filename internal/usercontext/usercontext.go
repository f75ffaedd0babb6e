// Package usercontext carries the acting user's identity through a
// context.Context, the same way the teacher threads a trace span
// through request handling (trace.StartSpanFromContext /
// trace.SpanFromContextSafe in master/catalog/catalog.go). Nothing else
// in this module reads it: the Manager and the internal packages take
// the acting user as an explicit string parameter.
package usercontext

import "context"

type userKey struct{}

// Anonymous is the identity assumed when no user was ever attached,
// e.g. a background job or an internal bootstrap call.
const Anonymous = "anonymous"

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the attached user, or Anonymous if none was
// ever attached.
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return Anonymous
}
