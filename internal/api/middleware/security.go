package middleware

import (
	"net/http"
)

// CORS sets wildcard CORS headers (§6): this is a networked multi-tenant
// API serving arbitrary copayer clients, not the teacher's localhost-only
// Electron shell, so origin is never restricted — authorization is carried
// entirely by the per-request signature, not by browser same-origin policy.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-identity, x-signature, x-client-version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps the request body at limitBytes, mirroring §6's 100 KiB
// POST-body ceiling. http.MaxBytesReader makes the next Read past the
// limit fail rather than silently truncating.
func BodyLimit(limitBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}
