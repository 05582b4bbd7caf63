package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/h4mn/skybridge/pkg/logger"
)

// authMiddleware wraps a handler with bearer-token checking, grounded on
// picoclaw's pkg/api/auth.go. HTTP routing/framework choice itself is a
// non-goal of spec.md — this is the minimal gate spec.md §6 implies by
// "auth upstream of this spec" for /ticket and /envelope, applied
// uniformly to every route except health.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("httpapi", "bearer token auth disabled — no api key configured")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="skybridge"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
