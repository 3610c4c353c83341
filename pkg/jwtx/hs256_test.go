package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, key []byte, claims jwtx.Claims) string {
	t.Helper()
	signer, err := jwtx.NewSignerHS256("test", key)
	require.NoError(t, err)

	tok, err := signer.Sign(claims)
	require.NoError(t, err)
	return tok
}

func TestHS256RoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	now := time.Now()
	claims := jwtx.NewClaims(jwtx.ClaimsParams{
		Subject:   "u1",
		TokenType: jwtx.TokenTypeMCP,
		Scope:     "projects:read",
		Issuer:    "broker",
		Audience:  []string{"client-1"},
	}, time.Hour, now)

	tok := signTestToken(t, key, claims)

	v, err := jwtx.NewVerifierHS256(key, jwtx.VerifyOptions{Issuer: "broker", Audience: []string{"client-1"}})
	require.NoError(t, err)

	got, err := v.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", got.Subject)
	require.Equal(t, jwtx.TokenTypeMCP, got.TokenType)
	require.Equal(t, "projects:read", got.Scope)

	tt, err := jwtx.PeekTokenType(tok)
	require.NoError(t, err)
	require.Equal(t, jwtx.TokenTypeMCP, tt)
}

func TestHS256Rejections(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	now := time.Unix(1700000000, 0)
	params := jwtx.ClaimsParams{Subject: "u1", TokenType: jwtx.TokenTypeMainApp, Issuer: "broker"}

	v, err := jwtx.NewVerifierHS256(key, jwtx.VerifyOptions{Now: func() time.Time { return now }})
	require.NoError(t, err)

	t.Run("different secret", func(t *testing.T) {
		tok := signTestToken(t, []byte("another-secret-another-secret-!!"), jwtx.NewClaims(params, time.Hour, now))
		_, err := v.Verify(tok)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("expired", func(t *testing.T) {
		tok := signTestToken(t, key, jwtx.NewClaims(params, time.Minute, now.Add(-time.Hour)))
		_, err := v.Verify(tok)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "a.b.c", "....."} {
			_, err := v.Verify(raw)
			require.Error(t, err, "input %q", raw)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		c := jwtx.NewClaims(params, time.Hour, now)
		c.ExpiresAt = nil
		_, err := v.Verify(signTestToken(t, key, c))
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
	})

	t.Run("unknown token type", func(t *testing.T) {
		c := jwtx.NewClaims(params, time.Hour, now)
		c.TokenType = "root"
		_, err := v.Verify(signTestToken(t, key, c))
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
	})

	t.Run("alg none", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwtx.NewClaims(params, time.Hour, now))
		raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(raw)
		require.Error(t, err)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		strict, err := jwtx.NewVerifierHS256(key, jwtx.VerifyOptions{
			Issuer: "someone-else",
			Now:    func() time.Time { return now },
		})
		require.NoError(t, err)

		_, err = strict.Verify(signTestToken(t, key, jwtx.NewClaims(params, time.Hour, now)))
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

func TestHS256RequiresKey(t *testing.T) {
	_, err := jwtx.NewSignerHS256("kid", nil)
	require.ErrorIs(t, err, jwtx.ErrMissingKey)

	_, err = jwtx.NewVerifierHS256(nil, jwtx.VerifyOptions{})
	require.ErrorIs(t, err, jwtx.ErrMissingKey)
}
