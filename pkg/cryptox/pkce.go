package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCEMethodS256 is the only code_challenge_method we accept. "plain" offers
// no protection against an intercepted authorization request.
const PKCEMethodS256 = "S256"

// S256Challenge computes BASE64URL(SHA256(verifier)) per RFC 7636.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyS256 reports whether verifier hashes to challenge. The comparison is
// constant time and an empty verifier or challenge never matches.
func VerifyS256(challenge, verifier string) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	computed := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
