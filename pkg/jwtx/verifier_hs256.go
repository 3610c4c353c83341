package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Verifier validates JWTs signed with a shared HMAC-SHA256 secret.
type HS256Verifier struct {
	key  []byte
	opts VerifyOptions
}

// NewVerifierHS256 creates a verifier for tokens signed with key.
func NewVerifierHS256(key []byte, opts VerifyOptions) (*HS256Verifier, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	return &HS256Verifier{key: key, opts: opts}, nil
}

// Verify validates the JWT string and returns its parsed Claims. Failures are
// mapped onto the package sentinels so callers can errors.Is them.
func (v *HS256Verifier) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.opts.now),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAlgMismatch
		}
		return v.key, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidClaim
	}

	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return Claims{}, err
	}
	if !claims.TokenType.Valid() {
		return Claims{}, fmt.Errorf("%w: token_type %q", ErrInvalidClaim, claims.TokenType)
	}

	return *claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenUnverifiable), errors.Is(err, ErrAlgMismatch):
		return fmt.Errorf("%w: %v", ErrAlgMismatch, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// PeekTokenType reads the token_type claim without verifying the signature.
// It is only for picking which key to verify with; never trust the result.
func PeekTokenType(tokenStr string) (TokenType, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &c); err != nil {
		return "", ErrMalformed
	}
	return c.TokenType, nil
}
