package encstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/rowjay/secret-vault/internal/compress"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// EndToEnd compresses and encrypts on the client; the store only ever sees
// ciphertext.
type EndToEnd struct {
	store  storage.Storage
	codec  compress.Codec
	cipher cryptoutil.Cipher
}

func NewEndToEnd(store storage.Storage, codec compress.Codec, cipher cryptoutil.Cipher, _ map[string]any) (Provider, error) {
	if err := checkDeps(store, codec, cipher); err != nil {
		return nil, err
	}
	return &EndToEnd{store: store, codec: codec, cipher: cipher}, nil
}

func (e *EndToEnd) Name() string { return TypeEndToEnd }

// PutObject streams data through compress -> encrypt into the store.
func (e *EndToEnd) PutObject(ctx context.Context, key string, data []byte, base64Key string, metadata map[string]string) error {
	rawKey, err := parseKey(base64Key, e.cipher.KeySize())
	if err != nil {
		return err
	}
	defer cryptoutil.Zero(rawKey)

	compReader, compWriter := io.Pipe()
	encReader, encWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := e.codec.Compress(bytes.NewReader(data), compWriter)
		_ = compWriter.CloseWithError(err)
		return err
	})

	eg.Go(func() error {
		err := e.cipher.Encrypt(compReader, encWriter, rawKey)
		_ = compReader.CloseWithError(err)
		_ = encWriter.CloseWithError(err)
		return err
	})

	eg.Go(func() error {
		err := e.store.Put(egCtx, key, encReader, -1, metadata)
		if err == nil {
			// drain anything the store did not consume so the writer never blocks
			_, err = io.Copy(io.Discard, encReader)
		}
		_ = encReader.CloseWithError(err)
		return err
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetObject streams the stored object through decrypt -> decompress.
func (e *EndToEnd) GetObject(ctx context.Context, key, base64Key string) ([]byte, error) {
	rawKey, err := parseKey(base64Key, e.cipher.KeySize())
	if err != nil {
		return nil, err
	}
	defer cryptoutil.Zero(rawKey)

	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	plainReader, plainWriter := io.Pipe()
	var decErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		decErr = e.cipher.Decrypt(reader, plainWriter, rawKey)
		_ = plainWriter.CloseWithError(decErr)
	}()

	out := &bytes.Buffer{}
	zipErr := e.codec.Decompress(plainReader, out)
	_ = plainReader.CloseWithError(zipErr)
	<-done

	// an authentication failure explains any decompression error that follows it
	var failure error
	switch {
	case errors.Is(decErr, vaulterr.ErrAuthenticationFailure):
		failure = decErr
	case zipErr != nil:
		failure = zipErr
	case decErr != nil:
		failure = decErr
	}
	if failure != nil {
		cryptoutil.Zero(out.Bytes())
		return nil, fmt.Errorf("get %s: %w", key, failure)
	}
	return out.Bytes(), nil
}

func (e *EndToEnd) ListObjects(ctx context.Context, prefix, delimiter string) ([]string, error) {
	return listKeys(ctx, e.store, prefix, delimiter)
}

func (e *EndToEnd) DeleteObject(ctx context.Context, key, _ string) error {
	return e.store.Delete(ctx, key)
}
