// Package middleware contains HTTP middleware for the bridge API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"agentplane/pkg/api"
)

// ownerIDKey is the context key for the owner ID.
type ownerIDKey struct{}

// Owner is middleware that extracts the owner identity from the request.
// Every job operation must be scoped by owner_id.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-Owner-ID")
		if ownerID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(api.ErrorResponse{
				Error: "missing owner ID",
				Code:  "401",
			})
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey{}, ownerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewContextWithOwnerID returns a context carrying the owner ID.
// Used by tests to simulate an authenticated request.
func NewContextWithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

// OwnerIDFromContext extracts the owner ID from the context.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ownerIDKey{}).(string)
	return v, ok && v != ""
}
