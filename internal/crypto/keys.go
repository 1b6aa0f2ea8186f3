package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes used with DeriveKey. Each purpose yields an independent key
// from the same session secret.
const (
	PurposeStateSigning      = "docsite state signing v1"
	PurposeSessionEncryption = "docsite session encryption v1"
)

// KeySize is the length of every derived key
const KeySize = 32

// DeriveKey expands secret into a KeySize key bound to purpose using HKDF-SHA256
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret is required")
	}
	if purpose == "" {
		return nil, fmt.Errorf("purpose is required")
	}

	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
