package jwtx

import (
	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// HS256Signer signs tokens with a shared HMAC-SHA256 secret.
type HS256Signer struct {
	kid string
	key []byte
}

// NewSignerHS256 creates an HS256 signer. An empty key is refused here so a
// misconfigured service fails at startup rather than on the first request.
func NewSignerHS256(kid string, key []byte) (*HS256Signer, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	return &HS256Signer{kid: kid, key: key}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KID() string { return s.kid }

// Sign takes your claims and turns them into a signed JWT string.
func (s *HS256Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.kid != "" {
		t.Header["kid"] = s.kid
	}
	return t.SignedString(s.key)
}
