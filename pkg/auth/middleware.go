package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware extracts the bearer token, authenticates it, and stores
// the resulting claims on the request context. Failures are 401 with a
// JSON body; authorization failures (acting on another user's data)
// are handled deeper in the stack as not-found.
func Middleware(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing Authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				unauthorized(w, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			claims, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				unauthorized(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
