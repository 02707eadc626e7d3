package httpx

import (
	"context"
)

// ownerKey is an unexported context key type to avoid collisions across packages.
type ownerKey struct{}

// OwnerIDHeader carries the caller identity set by the trusted upstream gateway.
const OwnerIDHeader = "X-User-ID"

// SetOwnerIDInContext returns a child context that carries the owner id.
// If id is empty, the original ctx is returned unchanged.
func SetOwnerIDInContext(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, id)
}

// OwnerIDFromContext returns the owner id and a boolean indicating presence.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok && id != ""
}
