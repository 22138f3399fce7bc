package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// aeadCipher buffers the whole object and seals it in one AEAD call. Layout:
// nonce || ciphertext || tag.
type aeadCipher struct {
	name    string
	newAEAD func(key []byte) (cipher.AEAD, error)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func newXChaCha(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key)
}

func (c aeadCipher) Name() string { return c.name }

func (c aeadCipher) KeySize() int { return KeySize }

func (c aeadCipher) Encrypt(in io.Reader, out io.Writer, key []byte) error {
	if err := checkArgs(in, out, key, KeySize); err != nil {
		return err
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	plain, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("%s: read plaintext: %w", c.name, err)
	}
	defer Zero(plain)

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%s: nonce: %w", c.name, err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	if _, err := out.Write(sealed); err != nil {
		return fmt.Errorf("%s: write ciphertext: %w", c.name, err)
	}
	return nil
}

func (c aeadCipher) Decrypt(in io.Reader, out io.Writer, key []byte) error {
	if err := checkArgs(in, out, key, KeySize); err != nil {
		return err
	}
	aead, err := c.newAEAD(key)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	sealed, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("%s: read ciphertext: %w", c.name, err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return authFailure("%s: ciphertext truncated (%d bytes)", c.name, len(sealed))
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return authFailure("%s: %v", c.name, err)
	}
	defer Zero(plain)
	if _, err := out.Write(plain); err != nil {
		return fmt.Errorf("%s: write plaintext: %w", c.name, err)
	}
	return nil
}
