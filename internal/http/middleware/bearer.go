package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireBearer rejects requests whose Authorization header does not
// carry the expected bearer token. An empty expected token disables
// the route entirely rather than leaving it open.
func RequireBearer(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				http.Error(w, "endpoint disabled", http.StatusServiceUnavailable)
				return
			}
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
