// Package compress provides the whole-stream codecs a vault pipeline can be
// configured with. Codec names are permanent: a manifest written today must
// resolve to the same wire format in every later build.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

const (
	TypeNone = "none/1"
	TypeGzip = "gzip/1"
	TypeZstd = "zstd/1"
	TypeS2   = "s2/1"

	// Default is used for new vaults.
	Default = TypeZstd
)

// Codec compresses and decompresses whole streams. Decompress is the exact
// inverse of Compress.
type Codec interface {
	Name() string
	Compress(in io.Reader, out io.Writer) error
	Decompress(in io.Reader, out io.Writer) error
}

// Builtin returns one instance of every codec shipped with this build.
func Builtin() []Codec {
	return []Codec{
		streamCodec{name: TypeNone},
		streamCodec{name: TypeGzip},
		streamCodec{name: TypeZstd},
		streamCodec{name: TypeS2},
	}
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	for _, c := range Builtin() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCompressionService, name)
}

type streamCodec struct {
	name string
}

func (c streamCodec) Name() string { return c.name }

func (c streamCodec) Compress(in io.Reader, out io.Writer) error {
	if in == nil || out == nil {
		return vaulterr.Invalid("compress: nil stream")
	}
	w, err := WrapWriter(c.name, out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return fmt.Errorf("compress %s: %w", c.name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", c.name, err)
	}
	return nil
}

func (c streamCodec) Decompress(in io.Reader, out io.Writer) error {
	if in == nil || out == nil {
		return vaulterr.Invalid("decompress: nil stream")
	}
	r, err := WrapReader(c.name, in)
	if err != nil {
		return invalidData(c.name, err)
	}
	defer r.Close()
	if _, err := io.Copy(out, r); err != nil {
		return invalidData(c.name, err)
	}
	return nil
}

// invalidData maps decoder failures to ErrInvalidData while keeping errors
// that already belong to the taxonomy (for example an authentication failure
// surfacing through a pipe) intact.
func invalidData(name string, err error) error {
	for _, known := range []error{
		vaulterr.ErrAuthenticationFailure,
		vaulterr.ErrInvalidArgument,
		vaulterr.ErrStorageUnavailable,
		vaulterr.ErrNotFound,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: decompress %s: %v", vaulterr.ErrInvalidData, name, err)
}

func WrapWriter(kind string, w io.Writer) (io.WriteCloser, error) {
	switch kind {
	case TypeNone:
		return nopWriteCloser{w}, nil
	case TypeGzip:
		return gzip.NewWriter(w), nil
	case TypeZstd:
		return zstd.NewWriter(w, zstd.WithZeroFrames(true))
	case TypeS2:
		return s2.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCompressionService, kind)
	}
}

func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case TypeNone:
		return io.NopCloser(r), nil
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	case TypeS2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCompressionService, kind)
	}
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
