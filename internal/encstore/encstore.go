// Package encstore composes an object store with a codec and a cipher. The
// vault manager only sees Provider and never learns which strategy backs a
// given vault.
package encstore

import (
	"context"
	"fmt"

	"github.com/rowjay/secret-vault/internal/compress"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

const (
	TypeEndToEnd = "e2e/1"
	TypeSSEC     = "sse-c/1"

	// Default is used for new vaults.
	Default = TypeEndToEnd
)

// Provider reads and writes whole objects under a caller-supplied base64 key.
type Provider interface {
	Name() string
	GetObject(ctx context.Context, key, base64Key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, base64Key string, metadata map[string]string) error
	ListObjects(ctx context.Context, prefix, delimiter string) ([]string, error)
	DeleteObject(ctx context.Context, key, base64Key string) error
}

// Factory builds a Provider for one vault. It must reject backends that lack a
// capability the strategy depends on, so unusable combinations fail at
// bootstrap rather than on first use.
type Factory func(store storage.Storage, codec compress.Codec, cipher cryptoutil.Cipher, params map[string]any) (Provider, error)

// Builtin returns the strategies shipped with this build keyed by name.
func Builtin() map[string]Factory {
	return map[string]Factory{
		TypeEndToEnd: NewEndToEnd,
		TypeSSEC:     NewSSEC,
	}
}

func checkDeps(store storage.Storage, codec compress.Codec, cipher cryptoutil.Cipher) error {
	if store == nil || codec == nil || cipher == nil {
		return vaulterr.Invalid("encrypted storage requires a store, a codec and a cipher")
	}
	return nil
}

// parseKey decodes base64Key and checks it against the cipher's key size.
func parseKey(base64Key string, size int) ([]byte, error) {
	key, err := cryptoutil.ParseKey(base64Key)
	if err != nil {
		return nil, err
	}
	if len(key) != size {
		cryptoutil.Zero(key)
		return nil, vaulterr.Invalid("key must be %d bytes", size)
	}
	return key, nil
}

func listKeys(ctx context.Context, store storage.Storage, prefix, delimiter string) ([]string, error) {
	objects, err := store.List(ctx, prefix, delimiter)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
