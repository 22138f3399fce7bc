package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/rowjay/secret-vault/internal/encstore"
	"github.com/rowjay/secret-vault/internal/secret"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// IndexEntry describes one secret without exposing its payload. Revision is
// the save revision whose payload object holds the current version.
type IndexEntry struct {
	ID        string      `json:"id"`
	Type      secret.Kind `json:"type"`
	Name      string      `json:"name"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Revision  int         `json:"revision"`
}

// Index is the ordered catalog of a vault's secrets.
type Index struct {
	entries []IndexEntry
}

type indexDocument struct {
	Entries []IndexEntry `json:"entries"`
}

func NewIndex() *Index { return &Index{} }

func (x *Index) position(id string) int {
	for i, e := range x.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// AddOrUpdate replaces the entry with the same id in place, or appends.
func (x *Index) AddOrUpdate(e IndexEntry) {
	if i := x.position(e.ID); i >= 0 {
		x.entries[i] = e
		return
	}
	x.entries = append(x.entries, e)
}

// Remove drops id and reports whether it was present.
func (x *Index) Remove(id string) bool {
	i := x.position(id)
	if i < 0 {
		return false
	}
	x.entries = append(x.entries[:i], x.entries[i+1:]...)
	return true
}

func (x *Index) Get(id string) (IndexEntry, bool) {
	if i := x.position(id); i >= 0 {
		return x.entries[i], true
	}
	return IndexEntry{}, false
}

// Entries returns a copy in index order.
func (x *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, len(x.entries))
	copy(out, x.entries)
	return out
}

func (x *Index) Len() int { return len(x.entries) }

// Find returns the entries whose name fuzzily matches query, best match
// first. An empty query matches everything.
func (x *Index) Find(query string) []IndexEntry {
	if query == "" {
		return x.Entries()
	}
	type ranked struct {
		entry IndexEntry
		rank  int
	}
	var hits []ranked
	for _, e := range x.entries {
		if r := fuzzy.RankMatchFold(query, e.Name); r >= 0 {
			hits = append(hits, ranked{entry: e, rank: r})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })
	out := make([]IndexEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

func (x *Index) clone() *Index {
	return &Index{entries: x.Entries()}
}

func (x *Index) marshal() ([]byte, error) {
	doc := indexDocument{Entries: x.entries}
	if doc.Entries == nil {
		doc.Entries = []IndexEntry{}
	}
	return json.Marshal(doc)
}

// loadIndex reads the index written at key. A missing, undecryptable or
// malformed index is an error, never an empty index.
func loadIndex(ctx context.Context, p encstore.Provider, key, base64Key string) (*Index, error) {
	data, err := p.GetObject(ctx, key, base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vaulterr.ErrFailedToLoadVaultIndex, key, err)
	}
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %v", vaulterr.ErrFailedToLoadVaultIndex, key, vaulterr.ErrInvalidData, err)
	}
	if doc.Entries == nil {
		return nil, fmt.Errorf("%w: %s: %w: entries missing", vaulterr.ErrFailedToLoadVaultIndex, key, vaulterr.ErrInvalidData)
	}
	for _, e := range doc.Entries {
		if e.ID == "" || e.Revision < 1 {
			return nil, fmt.Errorf("%w: %s: %w: bad entry %q", vaulterr.ErrFailedToLoadVaultIndex, key, vaulterr.ErrInvalidData, e.ID)
		}
	}
	return &Index{entries: doc.Entries}, nil
}

func saveIndex(ctx context.Context, p encstore.Provider, key string, x *Index, base64Key string) error {
	data, err := x.marshal()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return p.PutObject(ctx, key, data, base64Key, nil)
}
