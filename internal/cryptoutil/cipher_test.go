package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

func randBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func seal(t *testing.T, c Cipher, key, plain []byte) []byte {
	var out bytes.Buffer
	if err := c.Encrypt(bytes.NewReader(plain), &out, key); err != nil {
		t.Fatalf("%s encrypt: %v", c.Name(), err)
	}
	return out.Bytes()
}

func TestCipherRoundTrip(t *testing.T) {
	key := randBytes(t, KeySize)
	for _, c := range Builtin() {
		for _, size := range []int{0, 1, 4096, 200 * 1024} {
			plain := randBytes(t, size)
			sealed := seal(t, c, key, plain)
			if size > 16 && bytes.Contains(sealed, plain) {
				t.Fatalf("%s: plaintext visible in ciphertext", c.Name())
			}
			var out bytes.Buffer
			if err := c.Decrypt(bytes.NewReader(sealed), &out, key); err != nil {
				t.Fatalf("%s/%d decrypt: %v", c.Name(), size, err)
			}
			if !bytes.Equal(out.Bytes(), plain) {
				t.Fatalf("%s/%d: plaintext mismatch", c.Name(), size)
			}
		}
	}
}

func TestCipherFreshNonce(t *testing.T) {
	key := randBytes(t, KeySize)
	plain := []byte("same input")
	for _, c := range Builtin() {
		a := seal(t, c, key, plain)
		b := seal(t, c, key, plain)
		if bytes.Equal(a, b) {
			t.Fatalf("%s: identical ciphertexts for repeated encryption", c.Name())
		}
	}
}

func TestCipherTamperEveryByte(t *testing.T) {
	key := randBytes(t, KeySize)
	plain := []byte("tamper-evident payload")
	for _, c := range Builtin() {
		sealed := seal(t, c, key, plain)
		for i := range sealed {
			mut := append([]byte(nil), sealed...)
			mut[i] ^= 0x01
			var out bytes.Buffer
			err := c.Decrypt(bytes.NewReader(mut), &out, key)
			if !errors.Is(err, vaulterr.ErrAuthenticationFailure) {
				t.Fatalf("%s: byte %d flipped: expected ErrAuthenticationFailure, got %v", c.Name(), i, err)
			}
		}
	}
}

func TestCipherTruncation(t *testing.T) {
	key := randBytes(t, KeySize)
	for _, c := range Builtin() {
		for _, plain := range [][]byte{{}, []byte("hello")} {
			sealed := seal(t, c, key, plain)
			for _, n := range []int{0, 1, len(sealed) / 2, len(sealed) - 1} {
				err := c.Decrypt(bytes.NewReader(sealed[:n]), &bytes.Buffer{}, key)
				if !errors.Is(err, vaulterr.ErrAuthenticationFailure) {
					t.Fatalf("%s: truncated to %d: expected ErrAuthenticationFailure, got %v", c.Name(), n, err)
				}
			}
		}
	}
}

func TestCipherWrongKey(t *testing.T) {
	for _, c := range Builtin() {
		sealed := seal(t, c, randBytes(t, KeySize), []byte("secret"))
		err := c.Decrypt(bytes.NewReader(sealed), &bytes.Buffer{}, randBytes(t, KeySize))
		if !errors.Is(err, vaulterr.ErrAuthenticationFailure) {
			t.Fatalf("%s: expected ErrAuthenticationFailure, got %v", c.Name(), err)
		}
	}
}

func TestCipherInvalidArguments(t *testing.T) {
	for _, c := range Builtin() {
		if err := c.Encrypt(bytes.NewReader(nil), &bytes.Buffer{}, make([]byte, 16)); !errors.Is(err, vaulterr.ErrInvalidArgument) {
			t.Fatalf("%s: short key: expected ErrInvalidArgument, got %v", c.Name(), err)
		}
		if err := c.Decrypt(nil, &bytes.Buffer{}, make([]byte, KeySize)); !errors.Is(err, vaulterr.ErrInvalidArgument) {
			t.Fatalf("%s: nil reader: expected ErrInvalidArgument, got %v", c.Name(), err)
		}
	}
	if _, err := New("rot13/1"); !errors.Is(err, vaulterr.ErrUnsupportedCryptoService) {
		t.Fatalf("expected ErrUnsupportedCryptoService, got %v", err)
	}
}

func TestConfigEncryptRoundTrip(t *testing.T) {
	key := randBytes(t, KeySize)
	plain := []byte("global:\n  log_level: debug\n")
	sealed, err := EncryptConfig(plain, key)
	if err != nil {
		t.Fatalf("encrypt config: %v", err)
	}
	out, err := DecryptConfig(sealed, key)
	if err != nil {
		t.Fatalf("decrypt config: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatalf("config mismatch")
	}
}
