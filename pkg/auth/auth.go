// Package auth authenticates HTTP requests and resolves them to a user
// identity. Every conversation row is scoped by that identity, so the
// rest of the service never sees an unauthenticated request.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/keplerai/kepler/pkg/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims identifies the authenticated caller.
type Claims struct {
	// UserID scopes conversation ownership.
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	// Custom holds provider-specific claims not mapped above.
	Custom map[string]any `json:"-"`
}

// Authenticator resolves a bearer token to claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Claims, error)
}

type contextKey string

const claimsContextKey contextKey = "kepler_auth_claims"

// ContextWithClaims returns a child context carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext extracts the authenticated claims, nil when absent.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// UserIDFromContext is the common case: just the owner ID.
func UserIDFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// NewFromConfig builds the authenticator the server config asks for.
func NewFromConfig(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "static":
		return NewStaticAuthenticator(cfg.StaticKeys), nil
	case "jwt":
		return NewJWTAuthenticator(cfg.JWKSURL, cfg.Issuer, cfg.Audience)
	case "none":
		return anonymousAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// anonymousAuthenticator accepts everything as a single shared user.
// Development only; the config validator defaults to static.
type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	return &Claims{UserID: "anonymous"}, nil
}
