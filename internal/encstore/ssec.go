package encstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rowjay/secret-vault/internal/compress"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// SSEC compresses on the client and hands the raw key to the backend's
// native server-side encryption with every request.
type SSEC struct {
	store   storage.Storage
	backend storage.ServerSideEncrypter
	codec   compress.Codec
	keySize int
}

func NewSSEC(store storage.Storage, codec compress.Codec, cipher cryptoutil.Cipher, _ map[string]any) (Provider, error) {
	if err := checkDeps(store, codec, cipher); err != nil {
		return nil, err
	}
	backend, ok := store.(storage.ServerSideEncrypter)
	if !ok || !backend.SupportsSSEC() {
		return nil, fmt.Errorf("%w %q: storage backend %q cannot encrypt with client-supplied keys",
			vaulterr.ErrUnsupportedEncryptedStorageProvider, TypeSSEC, store.Name())
	}
	return &SSEC{store: store, backend: backend, codec: codec, keySize: cipher.KeySize()}, nil
}

func (s *SSEC) Name() string { return TypeSSEC }

func (s *SSEC) PutObject(ctx context.Context, key string, data []byte, base64Key string, metadata map[string]string) error {
	rawKey, err := parseKey(base64Key, s.keySize)
	if err != nil {
		return err
	}
	defer cryptoutil.Zero(rawKey)

	packed := &bytes.Buffer{}
	defer func() { cryptoutil.Zero(packed.Bytes()) }()
	if err := s.codec.Compress(bytes.NewReader(data), packed); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := s.backend.PutSSEC(ctx, key, bytes.NewReader(packed.Bytes()), int64(packed.Len()), metadata, rawKey); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SSEC) GetObject(ctx context.Context, key, base64Key string) ([]byte, error) {
	rawKey, err := parseKey(base64Key, s.keySize)
	if err != nil {
		return nil, err
	}
	defer cryptoutil.Zero(rawKey)

	reader, err := s.backend.GetSSEC(ctx, key, rawKey)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out := &bytes.Buffer{}
	if err := s.codec.Decompress(reader, out); err != nil {
		cryptoutil.Zero(out.Bytes())
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return out.Bytes(), nil
}

func (s *SSEC) ListObjects(ctx context.Context, prefix, delimiter string) ([]string, error) {
	return listKeys(ctx, s.store, prefix, delimiter)
}

func (s *SSEC) DeleteObject(ctx context.Context, key, _ string) error {
	return s.store.Delete(ctx, key)
}
