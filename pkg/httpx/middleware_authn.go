package httpx

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
)

// VerifierFunc adapts a plain function to jwtx.Verifier.
type VerifierFunc func(token string) (jwtx.Claims, error)

func (f VerifierFunc) Verify(token string) (jwtx.Claims, error) { return f(token) }

// AuthnOption configures Authenticate.
type AuthnOption func(*authnConfig)

type authnConfig struct {
	resourceMetadata string
	realm            string
}

// WithResourceMetadata advertises the protected resource metadata document
// in the WWW-Authenticate challenge so clients can discover the authorization
// server.
func WithResourceMetadata(url string) AuthnOption {
	return func(c *authnConfig) { c.resourceMetadata = url }
}

// WithRealm sets the realm parameter of the challenge.
func WithRealm(realm string) AuthnOption {
	return func(c *authnConfig) { c.realm = realm }
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate rejects requests without a bearer token that v accepts and
// stores the verified claims on the request context.
func Authenticate(v jwtx.Verifier, opts ...AuthnOption) Middleware {
	cfg := authnConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, cfg, "", "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				log.Warn("bearer verification failed", "err", err)
				writeBearerError(w, cfg, "invalid_token", "token verification failed")
				return
			}

			ctx = WithClaims(ctx, claims)
			ctx = slogx.WithAttrs(ctx, "user_id", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeBearerError writes an RFC 6750 challenge. A request that carried no
// credentials gets a challenge without an error code.
func writeBearerError(w http.ResponseWriter, cfg authnConfig, code, desc string) {
	params := make([]string, 0, 4)
	if cfg.realm != "" {
		params = append(params, fmt.Sprintf("realm=%q", cfg.realm))
	}
	if cfg.resourceMetadata != "" {
		params = append(params, fmt.Sprintf("resource_metadata=%q", cfg.resourceMetadata))
	}
	if code != "" {
		params = append(params, fmt.Sprintf("error=%q", code), fmt.Sprintf("error_description=%q", desc))
	}

	challenge := "Bearer"
	if len(params) > 0 {
		challenge += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", challenge)

	if code == "" {
		code = "invalid_token"
	}
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             code,
		"error_description": desc,
	})
}
