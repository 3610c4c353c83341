package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

// fingerprintPrefixLen is how much of a fingerprint is safe to put in logs.
const fingerprintPrefixLen = 8

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
//
// Authorization codes, device codes and pending authorization ids all use
// TokenSize256.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token,
// base64url encoded (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// FingerprintPrefix returns the first few characters of the token's
// fingerprint. This is the only form of a secret that may be logged.
func FingerprintPrefix(token string) string {
	if token == "" {
		return ""
	}
	return FingerprintToken(token)[:fingerprintPrefixLen]
}
