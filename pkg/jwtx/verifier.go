package jwtx

import (
	"errors"
	"time"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// Now overrides the clock, tests use it to age tokens.
	Now func() time.Time
}

func (o VerifyOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

var (
	ErrMissingKey  = errors.New("jwtx: missing signing key")
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)
