package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/encstore"
	"github.com/rowjay/secret-vault/internal/kdf"
	"github.com/rowjay/secret-vault/internal/secret"
	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/util"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

const defaultConcurrency = 4

// Options configures a Manager. Zero values pick the built-in defaults.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string
	// Concurrency bounds parallel secret writes and verification reads.
	Concurrency int
	// Services and KDF are the defaults for new vaults.
	Services  Services
	KDF       string
	KDFParams map[string]any
}

// Manager runs vault operations against one object store. It holds no
// per-vault state and is safe for concurrent use; two writers saving the same
// vault still race and the last manifest wins.
type Manager struct {
	store    storage.Storage
	registry *Registry
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

func NewManager(store storage.Storage, registry *Registry, log zerolog.Logger, opts Options) (*Manager, error) {
	if store == nil {
		return nil, vaulterr.Invalid("manager requires a storage backend")
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	opts.Services = opts.Services.withDefaults(DefaultServices())
	if opts.KDF == "" {
		opts.KDF = kdf.Default
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Manager{store: store, registry: registry, log: log, opts: opts, now: time.Now}, nil
}

// Registry exposes the services this manager can resolve.
func (m *Manager) Registry() *Registry { return m.registry }

type createConfig struct {
	services  Services
	kdf       string
	kdfParams map[string]any
}

// CreateOption customizes a new vault.
type CreateOption func(*createConfig)

// WithServices selects the pipeline of a new vault. Empty names keep the
// manager defaults.
func WithServices(compression, crypto, encryptedStorage string) CreateOption {
	return func(c *createConfig) {
		if compression != "" {
			c.services.Compression = compression
		}
		if crypto != "" {
			c.services.Crypto = crypto
		}
		if encryptedStorage != "" {
			c.services.EncryptedStorage = encryptedStorage
		}
	}
}

// WithKDF selects the key derivation algorithm and its parameters.
func WithKDF(name string, params map[string]any) CreateOption {
	return func(c *createConfig) {
		if name != "" {
			c.kdf = name
			c.kdfParams = params
		}
	}
}

// Create builds a new, unsaved vault. Nothing is written until Save.
func (m *Manager) Create(name, description string, opts ...CreateOption) (*Vault, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, vaulterr.Invalid("vault name is required")
	}
	cfg := createConfig{services: m.opts.Services, kdf: m.opts.KDF, kdfParams: m.opts.KDFParams}
	for _, opt := range opts {
		opt(&cfg)
	}
	// surfaces unknown names and backends lacking a required capability now
	if _, err := m.registry.bootstrap(cfg.services, nil, m.store); err != nil {
		return nil, err
	}
	deriver, err := m.registry.KDF(cfg.kdf, cfg.kdfParams)
	if err != nil {
		return nil, err
	}
	salt, err := kdf.NewSalt()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	v := &Vault{
		info: Info{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
			Salt:        kdf.EncodeSalt(salt),
			KDF:         deriver.Name(),
			KDFParams:   deriver.Params(),
		},
		index:    NewIndex(),
		services: cfg.services,
		state:    StateCreated,
		dirty:    map[string]secret.Secret{},
		now:      m.now,
	}
	m.log.Debug().Str("vault", v.ID()).Str("compression", cfg.services.Compression).
		Str("crypto", cfg.services.Crypto).Str("encrypted_storage", cfg.services.EncryptedStorage).
		Str("kdf", deriver.Name()).Msg("vault created")
	return v, nil
}

// Save writes the vault as revision r+1: info, changed secret payloads and
// index first, the manifest last. Until the manifest lands the previous
// revision stays authoritative. Superseded objects are removed afterwards on
// a best-effort basis.
func (m *Manager) Save(ctx context.Context, v *Vault, base64Key string) error {
	if v == nil {
		return vaulterr.Invalid("vault is nil")
	}
	if err := v.checkLive(); err != nil {
		return err
	}
	if v.state == StateSaved {
		m.log.Debug().Str("vault", v.ID()).Int("revision", v.revision).Msg("vault unchanged, nothing to save")
		return nil
	}
	if err := checkKey(base64Key); err != nil {
		return err
	}

	rev := v.revision + 1
	manifest := newManifest(v, m.store.Name(), rev)
	provider, err := m.registry.Bootstrap(manifest, m.store)
	if err != nil {
		return fmt.Errorf("save vault %s: %w", v.ID(), err)
	}
	if v.revision > 0 {
		// unchanged secrets stay encrypted under the key of the stored revision
		if _, err := m.loadInfo(ctx, provider, v.ID(), v.revision, base64Key); err != nil {
			return fmt.Errorf("save vault %s: %w", v.ID(), err)
		}
	}

	info := v.info
	info.UpdatedAt = m.now().UTC()
	if err := m.putJSON(ctx, provider, util.InfoKey(m.opts.Prefix, v.ID(), rev), info, base64Key); err != nil {
		return err
	}

	index := v.index.clone()
	written, err := m.putSecrets(ctx, provider, v, rev, base64Key)
	if err != nil {
		return err
	}
	for _, id := range written {
		if e, ok := index.Get(id); ok {
			e.Revision = rev
			index.AddOrUpdate(e)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := saveIndex(ctx, provider, util.IndexKey(m.opts.Prefix, v.ID(), rev), index, base64Key); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeManifest(ctx, m.store, util.ManifestKey(m.opts.Prefix, v.ID()), manifest); err != nil {
		return err
	}

	v.info = info
	v.index = index
	v.revision = rev
	v.dirty = map[string]secret.Secret{}
	v.state = StateSaved
	m.log.Info().Str("vault", v.ID()).Int("revision", rev).Int("secrets_written", len(written)).
		Int("entries", index.Len()).Msg("vault saved")

	m.collect(ctx, provider, v, base64Key)
	return nil
}

func (m *Manager) putJSON(ctx context.Context, p encstore.Provider, key string, value any, base64Key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.PutObject(ctx, key, data, base64Key, nil); err != nil {
		return err
	}
	m.log.Debug().Str("key", key).Msg("object written")
	return nil
}

// putSecrets writes every staged payload under rev and returns their ids.
func (m *Manager) putSecrets(ctx context.Context, p encstore.Provider, v *Vault, rev int, base64Key string) ([]string, error) {
	ids := make([]string, 0, len(v.dirty))
	for id := range v.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, id := range ids {
		s := v.dirty[id]
		key := util.SecretKey(m.opts.Prefix, v.ID(), id, rev)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := secret.Marshal(s)
			if err != nil {
				return fmt.Errorf("encode secret %s: %w", id, err)
			}
			defer secure.Zero(data)
			if err := p.PutObject(gctx, key, data, base64Key, nil); err != nil {
				return err
			}
			m.log.Debug().Str("key", key).Msg("secret written")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// collect deletes every object under the vault prefix that the current
// revision no longer references: earlier revisions, removed secrets and
// leftovers of interrupted saves.
func (m *Manager) collect(ctx context.Context, p encstore.Provider, v *Vault, base64Key string) {
	keep := map[string]bool{}
	keep[util.ManifestKey(m.opts.Prefix, v.ID())] = true
	keep[util.InfoKey(m.opts.Prefix, v.ID(), v.revision)] = true
	keep[util.IndexKey(m.opts.Prefix, v.ID(), v.revision)] = true
	for _, e := range v.index.entries {
		keep[util.SecretKey(m.opts.Prefix, v.ID(), e.ID, e.Revision)] = true
	}
	keys, err := p.ListObjects(ctx, util.VaultPrefix(m.opts.Prefix, v.ID()), "")
	if err != nil {
		m.log.Warn().Err(err).Str("vault", v.ID()).Msg("garbage collection skipped")
		return
	}
	removed := 0
	for _, key := range keys {
		if keep[key] {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := p.DeleteObject(ctx, key, base64Key); err != nil {
			m.log.Warn().Err(err).Str("key", key).Msg("failed to delete superseded object")
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Debug().Str("vault", v.ID()).Int("removed", removed).Msg("superseded objects collected")
	}
}

// Load opens the vault id with base64Key.
func (m *Manager) Load(ctx context.Context, id, base64Key string) (*Vault, error) {
	if strings.TrimSpace(id) == "" {
		return nil, vaulterr.Invalid("vault id is required")
	}
	if err := checkKey(base64Key); err != nil {
		return nil, err
	}
	manifest, err := readManifest(ctx, m.store, util.ManifestKey(m.opts.Prefix, id))
	if err != nil {
		return nil, err
	}
	provider, err := m.registry.Bootstrap(manifest, m.store)
	if err != nil {
		return nil, fmt.Errorf("load vault %s: %w", id, err)
	}
	rev := manifest.Revision()

	info, err := m.loadInfo(ctx, provider, id, rev, base64Key)
	if err != nil {
		return nil, err
	}
	index, err := loadIndex(ctx, provider, util.IndexKey(m.opts.Prefix, id, rev), base64Key)
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("vault", id).Int("revision", rev).Int("entries", index.Len()).Msg("vault loaded")
	return &Vault{
		info:     info,
		index:    index,
		services: manifest.Services(),
		revision: rev,
		state:    StateSaved,
		dirty:    map[string]secret.Secret{},
		now:      m.now,
	}, nil
}

func (m *Manager) loadInfo(ctx context.Context, p encstore.Provider, id string, rev int, base64Key string) (Info, error) {
	key := util.InfoKey(m.opts.Prefix, id, rev)
	data, err := p.GetObject(ctx, key, base64Key)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", vaulterr.ErrFailedToLoadVaultInfo, key, err)
	}
	info, err := decodeInfo(data)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", vaulterr.ErrFailedToLoadVaultInfo, key, err)
	}
	if info.ID != id {
		return Info{}, fmt.Errorf("%w: %s: %w: info belongs to vault %s", vaulterr.ErrFailedToLoadVaultInfo, key, vaulterr.ErrInvalidData, info.ID)
	}
	return info, nil
}

func checkKey(base64Key string) error {
	key, err := cryptoutil.ParseKey(base64Key)
	if err != nil {
		return err
	}
	cryptoutil.Zero(key)
	return nil
}

func (m *Manager) provider(v *Vault) (encstore.Provider, error) {
	return m.registry.bootstrap(v.services, nil, m.store)
}

// Secret returns the current payload of secret id. Staged secrets are
// returned without touching storage.
func (m *Manager) Secret(ctx context.Context, v *Vault, id, base64Key string) (secret.Secret, error) {
	if v == nil {
		return nil, vaulterr.Invalid("vault is nil")
	}
	if err := v.checkLive(); err != nil {
		return nil, err
	}
	if s, ok := v.dirty[id]; ok {
		return s, nil
	}
	entry, ok := v.index.Get(id)
	if !ok {
		return nil, &vaulterr.ObjectError{Op: "secret", Key: id, Err: vaulterr.ErrNotFound}
	}
	p, err := m.provider(v)
	if err != nil {
		return nil, err
	}
	key := util.SecretKey(m.opts.Prefix, v.ID(), id, entry.Revision)
	s, err := readSecret(ctx, p, key, id, base64Key)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func readSecret(ctx context.Context, p encstore.Provider, key, id, base64Key string) (secret.Secret, error) {
	data, err := p.GetObject(ctx, key, base64Key)
	if err != nil {
		return nil, err
	}
	defer secure.Zero(data)
	s, err := secret.Unmarshal(data)
	if err != nil {
		return nil, &vaulterr.ObjectError{Op: "decode", Key: key, Err: err}
	}
	if s.Meta().ID != id {
		return nil, &vaulterr.ObjectError{Op: "decode", Key: key, Err: fmt.Errorf("%w: payload belongs to secret %s", vaulterr.ErrInvalidData, s.Meta().ID)}
	}
	return s, nil
}

// Delete removes every object of the vault, manifest first so that a partial
// delete leaves nothing loadable. Missing objects are not errors; other
// failures are collected into a *vaulterr.MultiError.
func (m *Manager) Delete(ctx context.Context, v *Vault, base64Key string) error {
	if v == nil {
		return vaulterr.Invalid("vault is nil")
	}
	if err := v.checkLive(); err != nil {
		return err
	}
	p, err := m.provider(v)
	if err != nil {
		return err
	}
	failed := map[string]error{}
	manifestKey := util.ManifestKey(m.opts.Prefix, v.ID())
	if err := p.DeleteObject(ctx, manifestKey, base64Key); err != nil && !storage.IsNotFound(err) {
		failed[manifestKey] = err
	}

	prefix := util.VaultPrefix(m.opts.Prefix, v.ID())
	keys, err := p.ListObjects(ctx, prefix, "")
	if err != nil {
		failed[prefix] = err
	}
	deleted := 0
	for _, key := range keys {
		if key == manifestKey {
			continue
		}
		if err := p.DeleteObject(ctx, key, base64Key); err != nil && !storage.IsNotFound(err) {
			failed[key] = err
			continue
		}
		deleted++
	}

	if _, ok := failed[manifestKey]; !ok {
		v.state = StateDeleted
		v.dirty = map[string]secret.Secret{}
	}
	if len(failed) > 0 {
		m.log.Warn().Str("vault", v.ID()).Int("failed", len(failed)).Msg("vault delete incomplete")
		return &vaulterr.MultiError{Op: "delete vault " + v.ID(), Failed: failed}
	}
	m.log.Info().Str("vault", v.ID()).Int("objects", deleted+1).Msg("vault deleted")
	return nil
}

// Listing is one stored vault as seen without a key.
type Listing struct {
	ID       string
	Manifest Manifest
	// Modified is when the manifest was last written, zero if unknown.
	Modified time.Time
}

// ListVaults returns every vault whose manifest is readable. Vaults with a
// missing or corrupt manifest are skipped.
func (m *Manager) ListVaults(ctx context.Context) ([]Listing, error) {
	prefix := util.VaultsPrefix(m.opts.Prefix)
	objects, err := m.store.List(ctx, prefix, "/")
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	var out []Listing
	for _, obj := range objects {
		if !obj.IsPrefix {
			continue
		}
		id := util.VaultIDFromPrefix(m.opts.Prefix, obj.Key)
		manifest, err := readManifest(ctx, m.store, util.ManifestKey(m.opts.Prefix, id))
		if err != nil {
			if !errors.Is(err, vaulterr.ErrNotFound) {
				m.log.Warn().Err(err).Str("vault", id).Msg("skipping vault with unreadable manifest")
			}
			continue
		}
		listing := Listing{ID: id, Manifest: manifest}
		if st, err := m.store.Stat(ctx, util.ManifestKey(m.opts.Prefix, id)); err == nil {
			listing.Modified = st.Modified
		}
		out = append(out, listing)
	}
	return out, nil
}

// DeriveKey derives the key of vault id from pass using only the KDF
// parameters in its plaintext manifest.
func (m *Manager) DeriveKey(ctx context.Context, id string, pass *secure.Buffer) (string, error) {
	manifest, err := readManifest(ctx, m.store, util.ManifestKey(m.opts.Prefix, id))
	if err != nil {
		return "", err
	}
	alg, salt, params := manifest.KDF()
	d, err := m.registry.KDF(alg, params)
	if err != nil {
		return "", err
	}
	return deriveWith(d, salt, pass)
}
