package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func boolPtr(v bool) *bool { return &v }

func TestPrincipalFromRequestAnonymous(t *testing.T) {
	r := httptest.NewRequest("GET", "/sse", nil)

	p, err := PrincipalFromRequest(r, nil)
	require.NoError(t, err)
	assert.Equal(t, access.AnonymousID, p.ID)
	assert.True(t, p.IsAdmin)
}

func TestPrincipalFromRequestAnonymousDisabled(t *testing.T) {
	cfg := &settings.AuthConfig{JWTSecret: testSecret, AllowAnonymous: boolPtr(false)}
	r := httptest.NewRequest("GET", "/sse", nil)

	_, err := PrincipalFromRequest(r, cfg)
	require.Error(t, err)
	assert.Equal(t, mcperr.KindUnauthorized, mcperr.KindOf(err))
}

func TestPrincipalFromRequestValidToken(t *testing.T) {
	cfg := &settings.AuthConfig{JWTSecret: testSecret, AllowAnonymous: boolPtr(false)}
	token := signToken(t, jwt.MapClaims{
		"sub":   "alice",
		"name":  "Alice",
		"admin": true,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest("GET", "/sse", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p, err := PrincipalFromRequest(r, cfg)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.True(t, p.IsAdmin)
}

func TestPrincipalFromRequestNonAdminToken(t *testing.T) {
	cfg := &settings.AuthConfig{JWTSecret: testSecret}
	token := signToken(t, jwt.MapClaims{"sub": "bob"})

	r := httptest.NewRequest("GET", "/sse", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p, err := PrincipalFromRequest(r, cfg)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.ID)
	assert.False(t, p.IsAdmin)
}

func TestPrincipalFromRequestBadToken(t *testing.T) {
	cfg := &settings.AuthConfig{JWTSecret: testSecret, AllowAnonymous: boolPtr(false)}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong key", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"})
			signed, _ := tok.SignedString([]byte("other-secret"))
			return signed
		}()},
		{"expired", signToken(t, jwt.MapClaims{
			"sub": "x",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"no subject", signToken(t, jwt.MapClaims{"name": "nobody"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/sse", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)

			_, err := PrincipalFromRequest(r, cfg)
			require.Error(t, err)
			assert.Equal(t, mcperr.KindUnauthorized, mcperr.KindOf(err))
		})
	}
}

func TestPrincipalFromRequestTokenWithoutSecret(t *testing.T) {
	// A token arrives but nothing can verify it. With anonymous access on,
	// the request still succeeds as anonymous.
	r := httptest.NewRequest("GET", "/sse", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "x"}))

	p, err := PrincipalFromRequest(r, &settings.AuthConfig{})
	require.NoError(t, err)
	assert.Equal(t, access.AnonymousID, p.ID)

	_, err = PrincipalFromRequest(r, &settings.AuthConfig{AllowAnonymous: boolPtr(false)})
	require.Error(t, err)
}

func TestEffectivePrincipal(t *testing.T) {
	admin := access.Principal{ID: "root", IsAdmin: true}
	user := access.Principal{ID: "bob"}

	p, err := EffectivePrincipal(admin, "")
	require.NoError(t, err)
	assert.Equal(t, admin, p)

	p, err = EffectivePrincipal(admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.False(t, p.IsAdmin, "impersonation must not grant admin")

	p, err = EffectivePrincipal(user, "bob")
	require.NoError(t, err)
	assert.Equal(t, user, p)

	_, err = EffectivePrincipal(user, "alice")
	require.Error(t, err)
	assert.Equal(t, mcperr.KindUnauthorized, mcperr.KindOf(err))
}

func TestCheckAPIKey(t *testing.T) {
	cfg := &settings.AuthConfig{APIKey: "k-123"}

	r := httptest.NewRequest("GET", "/api/v1/status", nil)
	require.Error(t, CheckAPIKey(r, cfg))

	r.Header.Set("X-API-Key", "wrong")
	require.Error(t, CheckAPIKey(r, cfg))

	r.Header.Set("X-API-Key", "k-123")
	require.NoError(t, CheckAPIKey(r, cfg))

	// Bearer form.
	r2 := httptest.NewRequest("GET", "/api/v1/status", nil)
	r2.Header.Set("Authorization", "Bearer k-123")
	require.NoError(t, CheckAPIKey(r2, cfg))

	// No key configured leaves the API open.
	require.NoError(t, CheckAPIKey(httptest.NewRequest("GET", "/", nil), nil))
	require.NoError(t, CheckAPIKey(httptest.NewRequest("GET", "/", nil), &settings.AuthConfig{}))
}
