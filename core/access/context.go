package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const (
	contextKeyAccess   contextKey = "_access_"
	contextKeyIdentity contextKey = "_identity_"
)

// ContextWithAccess returns a new context with this access added to it.
//
// The access is only transported through the context; core operations always
// receive it as an explicit argument.
func ContextWithAccess(ctx context.Context, a *Access) context.Context {
	return context.WithValue(ctx, contextKeyAccess, a)
}

// FromContext retrieves an access from the context
func FromContext(ctx context.Context) *Access {
	a, ok := ctx.Value(contextKeyAccess).(*Access)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context
func IdentityFromContext(ctx context.Context) string {
	identity, ok := ctx.Value(contextKeyIdentity).(string)
	if ok {
		return identity
	}
	return ""
}
