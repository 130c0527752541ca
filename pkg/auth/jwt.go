package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTAuthenticator validates tokens issued by an external identity
// provider. The provider's JWKS is cached and auto-refreshed so key
// rotation needs no restart.
type JWTAuthenticator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWTAuthenticator registers jwksURL for auto-refresh and performs
// an initial fetch so a bad URL fails at startup.
func NewJWTAuthenticator(jwksURL, issuer, audience string) (*JWTAuthenticator, error) {
	ctx := context.Background()

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWTAuthenticator{
		jwksURL:  jwksURL,
		cache:    cache,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Authenticate verifies signature, expiry, issuer and audience, then
// maps the token to claims. The subject becomes the owning user ID.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredentials
	}

	keyset, err := a.cache.Get(ctx, a.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	options := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		options = append(options, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.Parse([]byte(token), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if parsed.Subject() == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	claims := &Claims{
		UserID: parsed.Subject(),
		Custom: make(map[string]any),
	}
	if email, ok := parsed.Get("email"); ok {
		claims.Email, _ = email.(string)
	}
	if role, ok := parsed.Get("role"); ok {
		claims.Role, _ = role.(string)
	}
	for iter := parsed.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, _ := pair.Key.(string)
		switch key {
		case "sub", "email", "role", "iss", "aud", "exp", "iat", "nbf":
		default:
			claims.Custom[key] = pair.Value
		}
	}
	return claims, nil
}
