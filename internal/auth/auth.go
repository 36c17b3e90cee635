// Package auth turns inbound HTTP credentials into principals. The hub
// does not store users: identity arrives as a signed bearer token (or not
// at all), and the management API is optionally gated by a static key.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/access"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

const (
	headerAPIKey        = "X-API-Key"
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// PrincipalFromRequest authenticates a downstream or management request.
//
// With a JWT secret configured, a bearer token is verified (HS256) and its
// sub/name/admin claims become the principal. Without a token the anonymous
// principal is used when the configuration allows it; the anonymous
// principal carries admin privilege so an auth-less hub behaves like a
// single-user tool.
func PrincipalFromRequest(r *http.Request, cfg *settings.AuthConfig) (access.Principal, error) {
	token := bearerToken(r)

	if token != "" && cfg != nil && cfg.JWTSecret != "" {
		return principalFromToken(token, cfg.JWTSecret)
	}
	if cfg.AnonymousAllowed() {
		return access.Anonymous(), nil
	}
	if token != "" {
		// A token arrived but no secret is configured to verify it.
		return access.Principal{}, mcperr.New(mcperr.KindUnauthorized, "bearer tokens are not accepted")
	}
	return access.Principal{}, mcperr.New(mcperr.KindUnauthorized, "authentication required")
}

func principalFromToken(token, secret string) (access.Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return access.Principal{}, mcperr.Wrap(mcperr.KindUnauthorized, err, "invalid bearer token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return access.Principal{}, mcperr.New(mcperr.KindUnauthorized, "invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return access.Principal{}, mcperr.New(mcperr.KindUnauthorized, "token has no subject")
	}
	name, _ := claims["name"].(string)
	admin, _ := claims["admin"].(bool)
	return access.Principal{ID: sub, DisplayName: name, IsAdmin: admin}, nil
}

// EffectivePrincipal applies a principal path segment to an authenticated
// principal. The segment sets the effective user for the request: admins
// may act as anyone (without inheriting admin rights), everyone else only
// as themselves.
func EffectivePrincipal(authed access.Principal, segment string) (access.Principal, error) {
	if segment == "" || segment == authed.ID {
		return authed, nil
	}
	if !authed.IsAdmin {
		return access.Principal{}, mcperr.Newf(mcperr.KindUnauthorized,
			"principal %q cannot act as %q", authed.ID, segment)
	}
	return access.Principal{ID: segment, DisplayName: segment, IsAdmin: false}, nil
}

// CheckAPIKey gates the management API. An empty configured key leaves it
// open. The key is accepted from X-API-Key or as a bearer token.
func CheckAPIKey(r *http.Request, cfg *settings.AuthConfig) error {
	if cfg == nil || cfg.APIKey == "" {
		return nil
	}
	presented := r.Header.Get(headerAPIKey)
	if presented == "" {
		presented = bearerToken(r)
	}
	if presented == "" {
		return mcperr.New(mcperr.KindUnauthorized, "missing API key")
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.APIKey)) != 1 {
		return mcperr.New(mcperr.KindUnauthorized, "invalid API key")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(headerAuthorization)
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return ""
}
