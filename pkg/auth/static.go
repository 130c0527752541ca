package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// StaticAuthenticator validates bearer tokens against a fixed key set
// from configuration, each key mapped to a user ID. Comparison is
// constant time per key.
type StaticAuthenticator struct {
	keys map[string]string
}

func NewStaticAuthenticator(keys map[string]string) *StaticAuthenticator {
	copied := make(map[string]string, len(keys))
	for token, userID := range keys {
		copied[token] = userID
	}
	return &StaticAuthenticator{keys: copied}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}
	for key, userID := range a.keys {
		if len(key) == len(token) && subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			return &Claims{UserID: userID}, nil
		}
	}
	return nil, fmt.Errorf("unknown API key: %w", ErrInvalidToken)
}
