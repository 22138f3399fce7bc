package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// KeySize is the raw key length every built-in cipher expects.
const KeySize = 32

// ParseKey expects a 32-byte key in base64 or hex form.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, vaulterr.Invalid("encryption key is empty")
	}
	var data []byte
	var err error

	switch {
	case strings.HasPrefix(trimmed, "base64:"):
		data, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, "base64:"))
	case strings.HasPrefix(trimmed, "hex:"):
		data, err = hex.DecodeString(strings.TrimPrefix(trimmed, "hex:"))
	default:
		data, err = base64.StdEncoding.DecodeString(trimmed)
	}
	if err != nil {
		return nil, vaulterr.Invalid("decode key: %v", err)
	}
	if len(data) != KeySize {
		Zero(data)
		return nil, vaulterr.Invalid("invalid key length: %d (expected %d bytes)", len(data), KeySize)
	}
	return data, nil
}

// EncodeKey renders a raw key in the base64 form vault operations accept.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// GenerateKey returns a fresh random key in base64 form.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	defer Zero(key)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return EncodeKey(key), nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
