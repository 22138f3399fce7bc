package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/minio/sio"
	"golang.org/x/crypto/hkdf"
)

const (
	dareNonceSize = 32
	dareInfo      = "svault/dare/1"
	// dareMarker is the first plaintext byte of every DARE stream, so even an
	// empty object produces at least one authenticated package and truncating
	// the stream down to the nonce is detected.
	dareMarker = byte(0x01)
)

// dareCipher streams through DARE (sio) in 64 KiB authenticated packages.
// Layout: nonce || DARE(marker || plaintext). The DARE key is derived per
// object from the vault key and the random nonce.
type dareCipher struct{}

func (dareCipher) Name() string { return TypeDARE }

func (dareCipher) KeySize() int { return KeySize }

func (d dareCipher) Encrypt(in io.Reader, out io.Writer, key []byte) error {
	if err := checkArgs(in, out, key, KeySize); err != nil {
		return err
	}
	nonce := make([]byte, dareNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("%s: nonce: %w", TypeDARE, err)
	}
	streamKey, err := dareKey(key, nonce)
	if err != nil {
		return err
	}
	defer Zero(streamKey)

	if _, err := out.Write(nonce); err != nil {
		return fmt.Errorf("%s: write nonce: %w", TypeDARE, err)
	}
	// sio closes the destination if it is a Closer; the caller owns out.
	encWriter, err := EncryptWriter(struct{ io.Writer }{out}, streamKey)
	if err != nil {
		return fmt.Errorf("%s: %w", TypeDARE, err)
	}
	if _, err := encWriter.Write([]byte{dareMarker}); err != nil {
		_ = encWriter.Close()
		return fmt.Errorf("%s: %w", TypeDARE, err)
	}
	if _, err := io.Copy(encWriter, in); err != nil {
		_ = encWriter.Close()
		return fmt.Errorf("%s: %w", TypeDARE, err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("%s: %w", TypeDARE, err)
	}
	return nil
}

func (d dareCipher) Decrypt(in io.Reader, out io.Writer, key []byte) error {
	if err := checkArgs(in, out, key, KeySize); err != nil {
		return err
	}
	nonce := make([]byte, dareNonceSize)
	if _, err := io.ReadFull(in, nonce); err != nil {
		return authFailure("%s: ciphertext truncated: %v", TypeDARE, err)
	}
	streamKey, err := dareKey(key, nonce)
	if err != nil {
		return err
	}
	defer Zero(streamKey)

	decReader, err := DecryptReader(in, streamKey)
	if err != nil {
		return authFailure("%s: %v", TypeDARE, err)
	}
	marker := make([]byte, 1)
	if _, err := io.ReadFull(decReader, marker); err != nil || marker[0] != dareMarker {
		return authFailure("%s: missing stream marker", TypeDARE)
	}
	dst := &trackingWriter{w: out}
	if _, err := io.Copy(dst, decReader); err != nil {
		if dst.err != nil {
			return fmt.Errorf("%s: write plaintext: %w", TypeDARE, dst.err)
		}
		return authFailure("%s: %v", TypeDARE, err)
	}
	return nil
}

// trackingWriter remembers destination failures so they are not mistaken for
// authentication failures of the source.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func dareKey(key, nonce []byte) ([]byte, error) {
	streamKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nonce, []byte(dareInfo)), streamKey); err != nil {
		return nil, fmt.Errorf("%s: derive stream key: %w", TypeDARE, err)
	}
	return streamKey, nil
}

// EncryptWriter returns a streaming encrypting writer using DARE (sio).
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, sio.Config{Key: key, MinVersion: sio.Version20})
}

// DecryptReader returns a streaming decrypting reader using DARE (sio).
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, sio.Config{Key: key, MinVersion: sio.Version20})
}
