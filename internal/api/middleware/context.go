package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ownerIDKey  contextKey = "owner_id"
	identityKey contextKey = "rate_identity"
)

// SetOwnerID stores the authenticated owner on ctx.
func SetOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ownerIDKey, id)
}

func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}

// setIdentity records what the request is rate limited on: an API key
// prefix or a token subject.
func setIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func getIdentity(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(identityKey).(string)
	return id, ok
}

// WithIdentity is setIdentity for tests in other packages.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return setIdentity(ctx, identity)
}
