package middleware

import (
	"crypto/subtle"
	"net/http"
)

const AgentKeyHeader = "X-Agent-Key"

// AgentKey admits only requests carrying the shared confirming-agent key.
// An empty key disables the routes it guards.
func AgentKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeJSONError(w, http.StatusForbidden, "agent access is not configured")
				return
			}
			got := r.Header.Get(AgentKeyHeader)
			if got == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing agent key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSONError(w, http.StatusForbidden, "invalid agent key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
