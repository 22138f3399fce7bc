package cryptoutil

import (
	"fmt"
	"io"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

const (
	TypeAESGCM  = "aes-256-gcm/1"
	TypeXChaCha = "xchacha20-poly1305/1"
	TypeDARE    = "dare/1"

	// DefaultCipher is used for new vaults.
	DefaultCipher = TypeAESGCM
)

// Cipher is an authenticated stream cipher keyed with a raw symmetric key.
// Encrypt prepends a fresh random nonce to its output; Decrypt consumes it and
// fails with vaulterr.ErrAuthenticationFailure on tampered or truncated input.
type Cipher interface {
	Name() string
	KeySize() int
	Encrypt(in io.Reader, out io.Writer, key []byte) error
	Decrypt(in io.Reader, out io.Writer, key []byte) error
}

// Builtin returns one instance of every cipher shipped with this build.
func Builtin() []Cipher {
	return []Cipher{
		aeadCipher{name: TypeAESGCM, newAEAD: newGCM},
		aeadCipher{name: TypeXChaCha, newAEAD: newXChaCha},
		dareCipher{},
	}
}

// New returns the cipher registered under name.
func New(name string) (Cipher, error) {
	for _, c := range Builtin() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCryptoService, name)
}

func checkArgs(in io.Reader, out io.Writer, key []byte, size int) error {
	if in == nil || out == nil {
		return vaulterr.Invalid("cipher: nil stream")
	}
	if len(key) != size {
		return vaulterr.Invalid("cipher: key must be %d bytes, got %d", size, len(key))
	}
	return nil
}

func authFailure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", vaulterr.ErrAuthenticationFailure, fmt.Sprintf(format, args...))
}
