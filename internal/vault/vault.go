package vault

import (
	"strings"
	"time"

	"github.com/rowjay/secret-vault/internal/secret"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

type State int

const (
	StateCreated State = iota + 1
	StateSaved
	StateModified
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSaved:
		return "saved"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Vault is the in-memory view of one vault. It is not safe for concurrent
// use; mutations only reach storage through Manager.Save.
type Vault struct {
	info     Info
	index    *Index
	services Services
	revision int
	state    State

	// secrets written by the next save, keyed by id
	dirty map[string]secret.Secret
	now   func() time.Time
}

func (v *Vault) ID() string         { return v.info.ID }
func (v *Vault) Info() Info         { return v.info }
func (v *Vault) Services() Services { return v.services }
func (v *Vault) State() State       { return v.state }

// Revision is the save revision last written or loaded; zero before the
// first save.
func (v *Vault) Revision() int { return v.revision }

func (v *Vault) Entries() []IndexEntry { return v.index.Entries() }

func (v *Vault) Find(query string) []IndexEntry { return v.index.Find(query) }

// Pending reports how many secret payloads the next save will write.
func (v *Vault) Pending() int { return len(v.dirty) }

func (v *Vault) checkLive() error {
	if v.state == StateDeleted {
		return vaulterr.Invalid("vault %s has been deleted", v.info.ID)
	}
	return nil
}

func (v *Vault) touch() {
	if v.state == StateSaved {
		v.state = StateModified
	}
}

func (v *Vault) SetName(name string) error {
	if err := v.checkLive(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return vaulterr.Invalid("vault name is required")
	}
	v.info.Name = name
	v.touch()
	return nil
}

func (v *Vault) SetDescription(description string) error {
	if err := v.checkLive(); err != nil {
		return err
	}
	v.info.Description = description
	v.touch()
	return nil
}

// PutSecret stages s for the next save. A secret already in the index keeps
// its id and gets a new version.
func (v *Vault) PutSecret(s secret.Secret) error {
	if err := v.checkLive(); err != nil {
		return err
	}
	if s == nil {
		return vaulterr.Invalid("secret is nil")
	}
	meta := s.Meta()
	if meta.ID == "" {
		return vaulterr.Invalid("secret has no id")
	}
	entry, exists := v.index.Get(meta.ID)
	if exists {
		secret.Touch(s, v.now())
		meta = s.Meta()
	}
	v.index.AddOrUpdate(IndexEntry{
		ID:        meta.ID,
		Type:      meta.Kind,
		Name:      meta.Name,
		UpdatedAt: meta.UpdatedAt,
		Revision:  entry.Revision,
	})
	v.dirty[meta.ID] = s
	v.touch()
	return nil
}

// RemoveSecret drops id from the index. Its payload objects are deleted
// after the next save commits.
func (v *Vault) RemoveSecret(id string) error {
	if err := v.checkLive(); err != nil {
		return err
	}
	if !v.index.Remove(id) {
		return &vaulterr.ObjectError{Op: "remove", Key: id, Err: vaulterr.ErrNotFound}
	}
	delete(v.dirty, id)
	v.touch()
	return nil
}
