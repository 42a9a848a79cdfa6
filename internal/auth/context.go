package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("no authenticated identity")

type identityKey struct{}

// WithIdentity attaches the caller to ctx.
func WithIdentity(ctx context.Context, userID, tenantID, role string) context.Context {
	return ContextWith(ctx, Identity{UserID: userID, TenantID: tenantID, Role: role})
}

func ContextWith(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller, or false for unauthenticated contexts.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.UserID })
}

func TenantID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.TenantID })
}

func Role(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.Role })
}

func field(ctx context.Context, get func(Identity) string) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	if v := get(id); v != "" {
		return v, nil
	}
	return "", ErrNoIdentity
}
