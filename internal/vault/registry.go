package vault

import (
	"fmt"
	"sort"

	"github.com/rowjay/secret-vault/internal/compress"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/encstore"
	"github.com/rowjay/secret-vault/internal/kdf"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// Services names the pipeline a vault is written with.
type Services struct {
	Compression      string
	Crypto           string
	EncryptedStorage string
}

// DefaultServices is used when neither the caller nor the configuration
// picks a service.
func DefaultServices() Services {
	return Services{
		Compression:      compress.Default,
		Crypto:           cryptoutil.DefaultCipher,
		EncryptedStorage: encstore.Default,
	}
}

func (s Services) withDefaults(d Services) Services {
	if s.Compression == "" {
		s.Compression = d.Compression
	}
	if s.Crypto == "" {
		s.Crypto = d.Crypto
	}
	if s.EncryptedStorage == "" {
		s.EncryptedStorage = d.EncryptedStorage
	}
	return s
}

// Registry maps permanent service names to implementations. Each process
// builds its own; nothing here is shared between registries.
type Registry struct {
	codecs  map[string]compress.Codec
	ciphers map[string]cryptoutil.Cipher
	stores  map[string]encstore.Factory
	kdfs    map[string]kdf.Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		codecs:  map[string]compress.Codec{},
		ciphers: map[string]cryptoutil.Cipher{},
		stores:  map[string]encstore.Factory{},
		kdfs:    map[string]kdf.Factory{},
	}
}

// DefaultRegistry returns a registry holding every built-in service.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range compress.Builtin() {
		r.RegisterCodec(c)
	}
	for _, c := range cryptoutil.Builtin() {
		r.RegisterCipher(c)
	}
	for name, f := range encstore.Builtin() {
		r.RegisterEncryptedStorage(name, f)
	}
	for name, f := range kdf.Builtin() {
		r.RegisterKDF(name, f)
	}
	return r
}

func (r *Registry) RegisterCodec(c compress.Codec) { r.codecs[c.Name()] = c }

func (r *Registry) RegisterCipher(c cryptoutil.Cipher) { r.ciphers[c.Name()] = c }

func (r *Registry) RegisterEncryptedStorage(name string, f encstore.Factory) { r.stores[name] = f }

func (r *Registry) RegisterKDF(name string, f kdf.Factory) { r.kdfs[name] = f }

func (r *Registry) Codec(name string) (compress.Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCompressionService, name)
	}
	return c, nil
}

func (r *Registry) Cipher(name string) (cryptoutil.Cipher, error) {
	c, ok := r.ciphers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedCryptoService, name)
	}
	return c, nil
}

func (r *Registry) EncryptedStorage(name string) (encstore.Factory, error) {
	f, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedEncryptedStorageProvider, name)
	}
	return f, nil
}

// KDF builds a deriver for name with params.
func (r *Registry) KDF(name string, params map[string]any) (kdf.Deriver, error) {
	f, ok := r.kdfs[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", vaulterr.ErrUnsupportedKeyDerivation, name)
	}
	return f(params)
}

// Names lists the registered names per service kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"compression":       sortedKeys(r.codecs),
		"crypto":            sortedKeys(r.ciphers),
		"encrypted-storage": sortedKeys(r.stores),
		"kdf":               sortedKeys(r.kdfs),
	}
}

// Bootstrap resolves the three services a manifest names and composes them
// over store. All names are resolved before anything is built, so a failure
// never yields a partial pipeline.
func (r *Registry) Bootstrap(m Manifest, store storage.Storage) (encstore.Provider, error) {
	return r.bootstrap(m.Services(), m.Parameters, store)
}

func (r *Registry) bootstrap(s Services, params map[string]any, store storage.Storage) (encstore.Provider, error) {
	codec, err := r.Codec(s.Compression)
	if err != nil {
		return nil, err
	}
	cipher, err := r.Cipher(s.Crypto)
	if err != nil {
		return nil, err
	}
	factory, err := r.EncryptedStorage(s.EncryptedStorage)
	if err != nil {
		return nil, err
	}
	return factory(store, codec, cipher, params)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
