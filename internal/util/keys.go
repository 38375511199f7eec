package util

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// NewKey returns a fresh random AES-256 key.
func NewKey() ([]byte, error) {
	return RandomBytes(AESKeySize)
}

// DeriveKey expands wrappingKey into an AES-256 key for one purpose with
// HKDF-SHA256. Different purposes yield unrelated keys.
func DeriveKey(wrappingKey []byte, purpose string) ([]byte, error) {
	if len(wrappingKey) != AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", AESKeySize, len(wrappingKey))
	}
	r := hkdf.New(sha256.New, wrappingKey, nil, []byte(purpose))
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}

// WipeBytes zeroes b in place.
func WipeBytes(b []byte) {
	clear(b)
}
