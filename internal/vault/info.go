package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/kdf"
	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// Info is the encrypted descriptor of a vault. ID, salt and KDF settings are
// fixed at creation; only the name, description and timestamps change.
type Info struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Salt        string         `json:"salt"`
	KDF         string         `json:"kdf"`
	KDFParams   map[string]any `json:"kdfParams"`
}

func decodeInfo(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("%w: %v", vaulterr.ErrInvalidData, err)
	}
	if info.ID == "" || info.Salt == "" || info.KDF == "" {
		return info, fmt.Errorf("%w: info lacks id, salt or kdf", vaulterr.ErrInvalidData)
	}
	return info, nil
}

// DeriveKey derives the base64 vault key from pass using the KDF recorded
// in info, resolved against r. The caller keeps ownership of pass.
func (r *Registry) DeriveKey(info Info, pass *secure.Buffer) (string, error) {
	d, err := r.KDF(info.KDF, info.KDFParams)
	if err != nil {
		return "", err
	}
	return deriveWith(d, info.Salt, pass)
}

func deriveWith(d kdf.Deriver, salt string, pass *secure.Buffer) (string, error) {
	rawSalt, err := kdf.DecodeSalt(salt)
	if err != nil {
		return "", err
	}
	key, err := d.DeriveKey(pass, rawSalt)
	if err != nil {
		return "", err
	}
	defer cryptoutil.Zero(key)
	return cryptoutil.EncodeKey(key), nil
}
