// Package security provides request hygiene middleware.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Config holds the security middleware settings.
type Config struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// scannerPrefixes match probes for software this service does not run.
var scannerPrefixes = []string{
	"/wp-admin",
	"/wp-login",
	"/wp-content",
	"/phpmyadmin",
	"/phpinfo",
	"/cgi-bin/",
	"/xmlrpc.php",
	"/.git/",
	"/.env",
	"/.htaccess",
	"/server-status",
}

// traversalPatterns match path traversal and null byte injection attempts,
// including their URL-encoded forms.
var traversalPatterns = []string{
	"../",
	"..%2f",
	"..%5c",
	"%2e%2e/",
	"%00",
}

// FilterMiddleware rejects requests matching known scanner and traversal
// patterns with a generic 400 so the filter rules are not observable.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if blocked(r) {
				rejectRequest(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func blocked(r *http.Request) bool {
	path := strings.ToLower(r.URL.Path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, pat := range traversalPatterns {
		if strings.Contains(path, pat) {
			return true
		}
	}

	raw := r.URL.RawPath
	if raw == "" {
		raw = r.URL.Path
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		decoded = strings.ToLower(decoded)
		for _, pat := range traversalPatterns {
			if strings.Contains(decoded, pat) {
				return true
			}
		}
	}
	return false
}

func rejectRequest(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "BAD_REQUEST",
			"message": "Invalid request",
		},
	})
}

// MaxBodySizeMiddleware caps the request body at maxSizeMB megabytes.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxSizeMB) << 20
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
