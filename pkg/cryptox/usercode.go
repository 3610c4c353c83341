package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// UserCodeAlphabet avoids characters that are easy to confuse when read
// aloud or typed from another screen: no vowels (so no accidental words), no
// 0/O, 1/I/L, or 5/S style lookalikes.
const UserCodeAlphabet = "BCDFGHJKMNPQRTVWXZ2346789"

// UserCodeGroupLen is the length of each half of a XXXX-XXXX user code.
const UserCodeGroupLen = 4

// GenerateUserCode returns a device flow user code formatted as XXXX-XXXX.
func GenerateUserCode() (string, error) {
	base := big.NewInt(int64(len(UserCodeAlphabet)))

	var b strings.Builder
	b.Grow(UserCodeGroupLen*2 + 1)
	for i := range UserCodeGroupLen * 2 {
		if i == UserCodeGroupLen {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		b.WriteByte(UserCodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NormalizeUserCode canonicalises what a user typed: case-insensitive,
// separators optional. It returns "" when the input cannot be a user code.
func NormalizeUserCode(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == '-' || r == ' ':
			continue
		case strings.ContainsRune(UserCodeAlphabet, r):
			b.WriteRune(r)
		default:
			return ""
		}
	}

	raw := b.String()
	if len(raw) != UserCodeGroupLen*2 {
		return ""
	}
	return raw[:UserCodeGroupLen] + "-" + raw[UserCodeGroupLen:]
}
