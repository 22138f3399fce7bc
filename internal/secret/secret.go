// Package secret defines the typed records stored in a vault. Each kind has a
// fixed field set and a constructor that refuses to build a record with a
// required field missing.
package secret

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

type Kind string

const (
	KindLogin Kind = "login"
	KindNote  Kind = "note"
	KindCard  Kind = "card"
	KindTOTP  Kind = "totp"
)

// Header holds the fields every secret kind shares.
type Header struct {
	ID        string
	Kind      Kind
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// Meta returns a copy of the header.
func (h Header) Meta() Header { return h }

func (h *Header) header() *Header { return h }

// Secret is a closed sum type: only the kinds in this package implement it.
type Secret interface {
	Meta() Header
	// Fields returns the kind-specific fields as a flat map.
	Fields() map[string]string
	header() *Header
}

func newHeader(kind Kind, name string, now time.Time) (Header, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Header{}, vaulterr.Invalid("%s secret: name is required", kind)
	}
	now = now.UTC()
	return Header{ID: uuid.NewString(), Kind: kind, Name: name, CreatedAt: now, UpdatedAt: now, Version: 1}, nil
}

func required(kind Kind, fields map[string]string, names ...string) error {
	var missing []string
	for _, n := range names {
		if strings.TrimSpace(fields[n]) == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return vaulterr.Invalid("%s secret: missing required field(s) %s", kind, strings.Join(missing, ", "))
	}
	return nil
}

// Touch records a mutation: the id stays, version and timestamp advance.
func Touch(s Secret, now time.Time) {
	h := s.header()
	h.Version++
	h.UpdatedAt = now.UTC()
}

// Rename changes the display name.
func Rename(s Secret, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return vaulterr.Invalid("secret name is required")
	}
	s.header().Name = name
	return nil
}

// Adopt copies identity and creation time from a previous revision, so an
// edited record keeps its id.
func Adopt(s Secret, previous Secret) {
	prev := previous.Meta()
	h := s.header()
	h.ID = prev.ID
	h.CreatedAt = prev.CreatedAt
	h.Version = prev.Version
}

type payload struct {
	ID        string            `json:"id"`
	Type      Kind              `json:"type"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Version   int               `json:"version"`
	Fields    map[string]string `json:"fields"`
}

// Marshal serializes a secret as its type tag plus a flat field map.
func Marshal(s Secret) ([]byte, error) {
	h := s.Meta()
	return json.Marshal(payload{
		ID:        h.ID,
		Type:      h.Kind,
		Name:      h.Name,
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
		Version:   h.Version,
		Fields:    s.Fields(),
	})
}

// Unmarshal decodes a payload written by Marshal, re-validating required
// fields for its kind.
func Unmarshal(data []byte) (Secret, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: secret payload: %v", vaulterr.ErrInvalidData, err)
	}
	if p.ID == "" || p.Name == "" {
		return nil, fmt.Errorf("%w: secret payload lacks id or name", vaulterr.ErrInvalidData)
	}
	h := Header{ID: p.ID, Kind: p.Type, Name: p.Name, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, Version: p.Version}
	s, err := fromFields(h, p.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vaulterr.ErrInvalidData, err)
	}
	return s, nil
}

func fromFields(h Header, f map[string]string) (Secret, error) {
	if f == nil {
		f = map[string]string{}
	}
	switch h.Kind {
	case KindLogin:
		if err := required(h.Kind, f, "username", "password"); err != nil {
			return nil, err
		}
		return &Login{Header: h, Username: f["username"], Password: f["password"], URL: f["url"]}, nil
	case KindNote:
		if err := required(h.Kind, f, "text"); err != nil {
			return nil, err
		}
		return &Note{Header: h, Text: f["text"]}, nil
	case KindCard:
		if err := required(h.Kind, f, "holder", "number", "expiry"); err != nil {
			return nil, err
		}
		return &Card{Header: h, Holder: f["holder"], Number: f["number"], Expiry: f["expiry"], CVV: f["cvv"]}, nil
	case KindTOTP:
		if err := required(h.Kind, f, "url"); err != nil {
			return nil, err
		}
		key, err := parseOTPURL(f["url"])
		if err != nil {
			return nil, err
		}
		return &TOTP{Header: h, key: key}, nil
	default:
		return nil, vaulterr.Invalid("unknown secret type %q", h.Kind)
	}
}

// FromFields builds a new secret of kind from a flat field map, the shape
// used by import tooling and the CLI.
func FromFields(kind Kind, name string, fields map[string]string, now time.Time) (Secret, error) {
	h, err := newHeader(kind, name, now)
	if err != nil {
		return nil, err
	}
	return fromFields(h, fields)
}
