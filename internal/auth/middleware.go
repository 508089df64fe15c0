// Package auth provides API key authentication middleware.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pendergraft/wasmproof/internal/storage"
)

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

// FromContext returns the authenticated key, or nil for anonymous requests.
func FromContext(ctx context.Context) *storage.APIKey {
	if key, ok := ctx.Value(apiKeyContextKey).(*storage.APIKey); ok {
		return key
	}
	return nil
}

// CallerID returns the authenticated key's ID, or "" for anonymous requests.
func CallerID(ctx context.Context) string {
	if key := FromContext(ctx); key != nil {
		return key.ID
	}
	return ""
}

func keyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
		return bearer[len("Bearer "):]
	}
	return ""
}

// Middleware requires a valid API key on every request it wraps.
func Middleware(store storage.APIKeyStore, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFromRequest(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			info, err := store.ValidateAPIKey(r.Context(), key)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware attaches key info when a valid key is supplied but never
// rejects the request. Used when writes are open and the caller identity is
// only recorded for attribution.
func OptionalMiddleware(store storage.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := keyFromRequest(r); key != "" {
				if info, err := store.ValidateAPIKey(r.Context(), key); err == nil && info != nil {
					r = r.WithContext(context.WithValue(r.Context(), apiKeyContextKey, info))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
