// Package identity models the external identity provider as an opaque
// source of stable user identifiers. The marketplace never inspects the
// id; it only stamps ownership and filters visibility with it.
package identity

import "context"

// Provider yields the user id for the current request context, reporting
// false when no user is signed in.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

type ctxKey struct{}

// WithUserID returns a context carrying the given user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext returns the user id attached to ctx, reporting false when
// none is present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// ContextProvider resolves the user id placed on the context by the HTTP
// layer.
type ContextProvider struct{}

// CurrentUserID returns the user id attached to ctx.
func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Static always reports the same user. Intended for tests and tooling.
type Static struct {
	UserID string
}

// CurrentUserID returns the fixed user id.
func (s Static) CurrentUserID(context.Context) (string, bool) {
	return s.UserID, s.UserID != ""
}
