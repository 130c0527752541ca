package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/config"
)

func echoUserHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context())))
	})
}

func TestMiddlewareStaticKeys(t *testing.T) {
	authenticator := NewStaticAuthenticator(map[string]string{
		"key-alpha": "user-1",
		"key-beta":  "user-2",
	})
	handler := Middleware(authenticator)(echoUserHandler())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid key", "Bearer key-alpha", http.StatusOK, "user-1"},
		{"second key", "Bearer key-beta", http.StatusOK, "user-2"},
		{"unknown key", "Bearer nope", http.StatusUnauthorized, ""},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic key-alpha", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "error")
			}
		})
	}
}

func TestStaticAuthenticatorRejectsEmptyToken(t *testing.T) {
	authenticator := NewStaticAuthenticator(map[string]string{"": "user-1"})
	_, err := authenticator.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNewFromConfig(t *testing.T) {
	static, err := NewFromConfig(config.AuthConfig{Mode: "static", StaticKeys: map[string]string{"k": "u"}})
	require.NoError(t, err)
	claims, err := static.Authenticate(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "u", claims.UserID)

	anonymous, err := NewFromConfig(config.AuthConfig{Mode: "none"})
	require.NoError(t, err)
	claims, err = anonymous.Authenticate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", claims.UserID)

	_, err = NewFromConfig(config.AuthConfig{Mode: "ldap"})
	assert.Error(t, err)
}

func TestClaimsContextRoundTrip(t *testing.T) {
	ctx := ContextWithClaims(context.Background(), &Claims{UserID: "user-9", Role: "admin"})
	claims := ClaimsFromContext(ctx)
	require.NotNil(t, claims)
	assert.Equal(t, "user-9", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	assert.Nil(t, ClaimsFromContext(context.Background()))
	assert.Equal(t, "", UserIDFromContext(context.Background()))
}
