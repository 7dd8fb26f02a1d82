package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated identity
	IdentityKey ContextKey = "identity"
)

// Identity is the authenticated caller resolved from a session
type Identity struct {
	UserID    string
	Email     string
	Role      string
	FactoryID string
}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// ExtractIdentity extracts the identity from the request context
func ExtractIdentity(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*Identity)
	return id, ok && id != nil
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	id, ok := ExtractIdentity(ctx)
	if !ok {
		return "", false
	}
	return id.UserID, true
}
