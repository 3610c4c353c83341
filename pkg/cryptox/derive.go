package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeySize is the length of keys produced by DeriveKey (HS256 wants at
// least 256 bits).
const DerivedKeySize = 32

// DeriveKey expands master into a purpose-bound subkey with HKDF-SHA256. Two
// different info labels never yield interchangeable keys, so a token signed
// for one purpose cannot verify under another.
func DeriveKey(master []byte, info string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("cryptox: empty master secret")
	}

	r := hkdf.New(sha256.New, master, nil, []byte(info))
	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive %q: %w", info, err)
	}
	return key, nil
}
