// Package vault implements the vault lifecycle on top of an encrypted
// storage provider: create, save, load, verify and delete, plus the
// bootstrap step that turns a stored manifest into a working pipeline.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cast"

	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/vaulterr"
	"github.com/rowjay/secret-vault/internal/version"
)

// Manifest parameter names.
const (
	ParamRevision     = "vault.revision"
	ParamStorage      = "storage.provider"
	ParamKDFAlgorithm = "kdf.algorithm"
	ParamKDFSalt      = "kdf.salt"

	kdfParamPrefix = "kdf."
)

// Manifest is the plaintext descriptor written next to every vault. It names
// the services needed to read the vault and is never compressed or
// encrypted, so it must hold nothing secret.
type Manifest struct {
	EngineVersion                string         `json:"engineVersion"`
	CompressionServiceName       string         `json:"compressionServiceName"`
	CryptoServiceName            string         `json:"cryptoServiceName"`
	EncryptedStorageProviderName string         `json:"encryptedStorageProviderName"`
	Parameters                   map[string]any `json:"parameters"`
}

// Revision is the save revision the manifest points at.
func (m Manifest) Revision() int {
	return cast.ToInt(m.Parameters[ParamRevision])
}

// StorageProvider is the object storage backend the vault was written to.
func (m Manifest) StorageProvider() string {
	return cast.ToString(m.Parameters[ParamStorage])
}

// KDF returns the key derivation algorithm, its base64 salt and parameters.
func (m Manifest) KDF() (algorithm, salt string, params map[string]any) {
	params = map[string]any{}
	for k, v := range m.Parameters {
		if !strings.HasPrefix(k, kdfParamPrefix) || k == ParamKDFAlgorithm || k == ParamKDFSalt {
			continue
		}
		params[strings.TrimPrefix(k, kdfParamPrefix)] = v
	}
	return cast.ToString(m.Parameters[ParamKDFAlgorithm]), cast.ToString(m.Parameters[ParamKDFSalt]), params
}

// Services returns the service names the manifest declares.
func (m Manifest) Services() Services {
	return Services{
		Compression:      m.CompressionServiceName,
		Crypto:           m.CryptoServiceName,
		EncryptedStorage: m.EncryptedStorageProviderName,
	}
}

func (m Manifest) validate() error {
	switch {
	case m.EngineVersion == "":
		return fmt.Errorf("%w: manifest lacks engineVersion", vaulterr.ErrInvalidData)
	case m.Parameters == nil:
		return fmt.Errorf("%w: manifest lacks parameters", vaulterr.ErrInvalidData)
	case m.Revision() < 1:
		return fmt.Errorf("%w: manifest revision %v is not positive", vaulterr.ErrInvalidData, m.Parameters[ParamRevision])
	}
	return nil
}

func newManifest(v *Vault, storageName string, revision int) Manifest {
	params := map[string]any{
		ParamRevision:     revision,
		ParamStorage:      storageName,
		ParamKDFAlgorithm: v.info.KDF,
		ParamKDFSalt:      v.info.Salt,
	}
	for k, val := range v.info.KDFParams {
		params[kdfParamPrefix+k] = val
	}
	return Manifest{
		EngineVersion:                version.EngineVersion,
		CompressionServiceName:       v.services.Compression,
		CryptoServiceName:            v.services.Crypto,
		EncryptedStorageProviderName: v.services.EncryptedStorage,
		Parameters:                   params,
	}
}

func writeManifest(ctx context.Context, store storage.Storage, key string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), map[string]string{"content-type": "application/json"}); err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}
	return nil
}

// readManifest loads and validates the manifest at key. Every failure wraps
// ErrFailedToLoadVaultInfo: without a manifest the vault cannot be opened.
func readManifest(ctx context.Context, store storage.Storage, key string) (Manifest, error) {
	var m Manifest
	rc, err := store.Get(ctx, key)
	if err != nil {
		return m, fmt.Errorf("%w: manifest %s: %w", vaulterr.ErrFailedToLoadVaultInfo, key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return m, fmt.Errorf("%w: manifest %s: %w", vaulterr.ErrFailedToLoadVaultInfo, key, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: manifest %s: %w: %v", vaulterr.ErrFailedToLoadVaultInfo, key, vaulterr.ErrInvalidData, err)
	}
	if err := m.validate(); err != nil {
		return m, fmt.Errorf("%w: manifest %s: %w", vaulterr.ErrFailedToLoadVaultInfo, key, err)
	}
	return m, nil
}
