package httpx

import (
	"context"

	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
)

type ctxKey string

const ctxKeyClaims ctxKey = "claims"

// WithClaims stores verified token claims on ctx.
func WithClaims(ctx context.Context, c jwtx.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(jwtx.Claims)
	return c, ok
}

// SubjectFromContext returns the authenticated user id, or "".
func SubjectFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

func scopesFromCtx(ctx context.Context) []string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Scopes()
	}
	return nil
}
