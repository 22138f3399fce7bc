package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/secret-vault/internal/compress"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/encstore"
	"github.com/rowjay/secret-vault/internal/kdf"
	"github.com/rowjay/secret-vault/internal/secret"
	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/util"
	"github.com/rowjay/secret-vault/internal/vaulterr"
	"github.com/rowjay/secret-vault/internal/version"
)

var fastKDF = map[string]any{"time": 1, "memory": 64, "threads": 1}

// hookStore wraps a store to observe writes and inject delete failures.
type hookStore struct {
	storage.Storage
	onPut      func(key string)
	failDelete func(key string) bool
}

func (h *hookStore) Put(ctx context.Context, key string, r io.Reader, size int64, md map[string]string) error {
	err := h.Storage.Put(ctx, key, r, size, md)
	if err == nil && h.onPut != nil {
		h.onPut(key)
	}
	return err
}

func (h *hookStore) Delete(ctx context.Context, key string) error {
	if h.failDelete != nil && h.failDelete(key) {
		return &vaulterr.ObjectError{Op: "delete", Key: key, Err: vaulterr.ErrStorageUnavailable}
	}
	return h.Storage.Delete(ctx, key)
}

func newManager(t *testing.T, store storage.Storage) *Manager {
	t.Helper()
	m, err := NewManager(store, DefaultRegistry(), zerolog.Nop(), Options{Prefix: "tenant", KDFParams: fastKDF})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func passKey(t *testing.T, info Info, pass string) string {
	t.Helper()
	buf := secure.FromString(pass)
	defer buf.Wipe()
	key, err := DefaultRegistry().DeriveKey(info, buf)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return key
}

func mustLogin(t *testing.T, name, password string) *secret.Login {
	t.Helper()
	s, err := secret.NewLogin(name, "alice", password, "https://example.com", time.Now())
	if err != nil {
		t.Fatalf("new login: %v", err)
	}
	return s
}

func readRaw(t *testing.T, store storage.Storage, key string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return data
}

func listKeys(t *testing.T, store storage.Storage, prefix string) []string {
	t.Helper()
	objects, err := store.List(context.Background(), prefix, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	return keys
}

func TestVaultLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)

	v, err := m.Create("TestVault", "desc")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.State() != StateCreated || v.Revision() != 0 {
		t.Fatalf("unexpected initial state %s rev %d", v.State(), v.Revision())
	}
	if len(listKeys(t, store, "")) != 0 {
		t.Fatalf("create must not touch storage")
	}
	key := passKey(t, v.Info(), "Passw0rd!")

	login := mustLogin(t, "mail", "hunter2")
	if err := v.PutSecret(login); err != nil {
		t.Fatalf("put secret: %v", err)
	}
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	if v.State() != StateSaved || v.Revision() != 1 {
		t.Fatalf("unexpected state after save %s rev %d", v.State(), v.Revision())
	}
	for _, k := range listKeys(t, store, "") {
		if bytes.Contains(readRaw(t, store, k), []byte("hunter2")) {
			t.Fatalf("plaintext secret stored in %s", k)
		}
	}

	loaded, err := m.Load(ctx, v.ID(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	info := loaded.Info()
	if info.Name != "TestVault" || info.Description != "desc" || info.ID != v.ID() || info.Salt != v.Info().Salt {
		t.Fatalf("unexpected info: %+v", info)
	}
	entries := loaded.Entries()
	if len(entries) != 1 || entries[0].ID != login.ID || entries[0].Type != secret.KindLogin || entries[0].Revision != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	got, err := m.Secret(ctx, loaded, login.ID, key)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if l, ok := got.(*secret.Login); !ok || l.Password != "hunter2" || l.Username != "alice" {
		t.Fatalf("unexpected secret: %#v", got)
	}

	pass := secure.FromString("Passw0rd!")
	derived, err := m.DeriveKey(ctx, v.ID(), pass)
	pass.Wipe()
	if err != nil || derived != key {
		t.Fatalf("manifest-only derivation mismatch: %v", err)
	}

	wrong := passKey(t, v.Info(), "Passw0rd?")
	_, err = m.Load(ctx, v.ID(), wrong)
	if !errors.Is(err, vaulterr.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure, got %v", err)
	}

	if err := m.Delete(ctx, loaded, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if loaded.State() != StateDeleted {
		t.Fatalf("expected deleted state, got %s", loaded.State())
	}
	if keys := listKeys(t, store, ""); len(keys) != 0 {
		t.Fatalf("objects left after delete: %v", keys)
	}
	_, err = m.Load(ctx, v.ID(), key)
	if !errors.Is(err, vaulterr.ErrFailedToLoadVaultInfo) {
		t.Fatalf("expected failed to load vault info, got %v", err)
	}
	if err := m.Save(ctx, loaded, key); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("save after delete should fail, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	m := newManager(t, storage.NewMemory())
	if _, err := m.Create("  ", ""); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := m.Create("v", "", WithServices("lz4/1", "", "")); !errors.Is(err, vaulterr.ErrUnsupportedCompressionService) {
		t.Fatalf("expected unsupported compression, got %v", err)
	}
	if _, err := m.Create("v", "", WithServices("", "rot13/1", "")); !errors.Is(err, vaulterr.ErrUnsupportedCryptoService) {
		t.Fatalf("expected unsupported crypto, got %v", err)
	}
	_, err := m.Create("v", "", WithServices("", "", encstore.TypeSSEC))
	if !errors.Is(err, vaulterr.ErrUnsupportedEncryptedStorageProvider) || !errors.Is(err, vaulterr.ErrUnsupportedServiceName) {
		t.Fatalf("expected sse-c to be rejected on a memory store, got %v", err)
	}
	if _, err := m.Create("v", "", WithKDF("bcrypt/1", nil)); !errors.Is(err, vaulterr.ErrUnsupportedKeyDerivation) {
		t.Fatalf("expected unsupported kdf, got %v", err)
	}
}

func TestManifestIsPlaintextAndComplete(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, err := m.Create("v", "", WithServices(compress.TypeS2, cryptoutil.TypeXChaCha, ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := passKey(t, v.Info(), "pw")
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw := readRaw(t, store, util.ManifestKey("tenant", v.ID()))
	if bytes.Contains(raw, []byte(key)) {
		t.Fatalf("manifest leaks the vault key")
	}
	var doc Manifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("manifest is not plain json: %v", err)
	}
	if doc.EngineVersion != version.EngineVersion || doc.CompressionServiceName != compress.TypeS2 ||
		doc.CryptoServiceName != cryptoutil.TypeXChaCha || doc.EncryptedStorageProviderName != encstore.TypeEndToEnd {
		t.Fatalf("unexpected manifest: %+v", doc)
	}
	if doc.Revision() != 1 || doc.StorageProvider() != "memory" {
		t.Fatalf("unexpected parameters: %v", doc.Parameters)
	}
	alg, salt, params := doc.KDF()
	if alg != kdf.TypeArgon2id || salt != v.Info().Salt || len(params) != 3 {
		t.Fatalf("unexpected kdf parameters: %s %s %v", alg, salt, params)
	}
}

func TestLoadFailsOnUnknownEncryptedStorage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	partial := NewRegistry()
	for _, c := range compress.Builtin() {
		partial.RegisterCodec(c)
	}
	for _, c := range cryptoutil.Builtin() {
		partial.RegisterCipher(c)
	}
	other, err := NewManager(store, partial, zerolog.Nop(), Options{Prefix: "tenant"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = other.Load(ctx, v.ID(), key)
	if !errors.Is(err, vaulterr.ErrUnsupportedEncryptedStorageProvider) || !errors.Is(err, vaulterr.ErrUnsupportedServiceName) {
		t.Fatalf("expected unsupported encrypted storage, got %v", err)
	}
}

func TestSaveLoadIdempotentAndCollected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")

	a := mustLogin(t, "a", "1")
	b, _ := secret.NewNote("b", "text", time.Now())
	_ = v.PutSecret(a)
	_ = v.PutSecret(b)
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := m.Load(ctx, v.ID(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.Save(ctx, loaded, key); err != nil {
		t.Fatalf("save unchanged: %v", err)
	}
	if loaded.Revision() != 1 {
		t.Fatalf("unchanged save should not write a revision, got %d", loaded.Revision())
	}

	edited, err := m.Secret(ctx, loaded, a.ID, key)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	edited.(*secret.Login).Password = "2"
	if err := loaded.PutSecret(edited); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := loaded.RemoveSecret(b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if loaded.State() != StateModified {
		t.Fatalf("expected modified state, got %s", loaded.State())
	}
	if err := m.Save(ctx, loaded, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := m.Load(ctx, v.ID(), key)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entries := again.Entries()
	if again.Revision() != 2 || len(entries) != 1 || entries[0].ID != a.ID || entries[0].Revision != 2 {
		t.Fatalf("unexpected reloaded state rev=%d entries=%+v", again.Revision(), entries)
	}
	got, _ := m.Secret(ctx, again, a.ID, key)
	if l := got.(*secret.Login); l.Password != "2" || l.Version != 2 || l.ID != a.ID {
		t.Fatalf("unexpected secret after edit: %+v", l)
	}

	want := map[string]bool{}
	for _, k := range []string{
		util.ManifestKey("tenant", v.ID()),
		util.InfoKey("tenant", v.ID(), 2),
		util.IndexKey("tenant", v.ID(), 2),
		util.SecretKey("tenant", v.ID(), a.ID, 2),
	} {
		want[k] = true
	}
	keys := listKeys(t, store, util.VaultPrefix("tenant", v.ID()))
	if len(keys) != len(want) {
		t.Fatalf("unexpected objects after collection: %v", keys)
	}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected object %s", k)
		}
	}
}

func TestSaveRejectsForeignKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	first := mustLogin(t, "first", "1")
	_ = v.PutSecret(first)
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	before := listKeys(t, store, util.VaultPrefix("tenant", v.ID()))

	_ = v.PutSecret(mustLogin(t, "second", "2"))
	other := passKey(t, v.Info(), "not-pw")
	if err := m.Save(ctx, v, other); !errors.Is(err, vaulterr.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if v.Revision() != 1 || v.State() != StateModified {
		t.Fatalf("rejected save must not commit: rev=%d state=%s", v.Revision(), v.State())
	}
	if after := listKeys(t, store, util.VaultPrefix("tenant", v.ID())); len(after) != len(before) {
		t.Fatalf("rejected save wrote objects: before=%v after=%v", before, after)
	}

	loaded, err := m.Load(ctx, v.ID(), key)
	if err != nil {
		t.Fatalf("load with original key: %v", err)
	}
	if _, err := m.Secret(ctx, loaded, first.ID, key); err != nil {
		t.Fatalf("secret with original key: %v", err)
	}

	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save with original key: %v", err)
	}
	if v.Revision() != 2 || len(v.Entries()) != 2 {
		t.Fatalf("unexpected state after save: rev=%d entries=%d", v.Revision(), len(v.Entries()))
	}
}

func TestCancelledSaveKeepsPreviousRevision(t *testing.T) {
	store := &hookStore{Storage: storage.NewMemory()}
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	first := mustLogin(t, "first", "1")
	_ = v.PutSecret(first)
	if err := m.Save(context.Background(), v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	_ = v.PutSecret(mustLogin(t, "second", "2"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onPut = func(k string) {
		if strings.Contains(k, "/index/") {
			cancel()
		}
	}
	if err := m.Save(ctx, v, key); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if v.Revision() != 1 || v.State() != StateModified {
		t.Fatalf("failed save must not commit: rev=%d state=%s", v.Revision(), v.State())
	}
	store.onPut = nil

	loaded, err := m.Load(context.Background(), v.ID(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Revision() != 1 || len(loaded.Entries()) != 1 || loaded.Entries()[0].ID != first.ID {
		t.Fatalf("previous revision not authoritative: rev=%d entries=%+v", loaded.Revision(), loaded.Entries())
	}

	// the interrupted objects are collected by the next successful save
	if err := m.Save(context.Background(), v, key); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	if v.Revision() != 2 || len(v.Entries()) != 2 {
		t.Fatalf("unexpected state after retry: rev=%d entries=%d", v.Revision(), len(v.Entries()))
	}
}

func TestCancelledFirstSaveLeavesNothingLoadable(t *testing.T) {
	store := &hookStore{Storage: storage.NewMemory()}
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onPut = func(k string) {
		if strings.Contains(k, "/info/") {
			cancel()
		}
	}
	if err := m.Save(ctx, v, key); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	_, err := m.Load(context.Background(), v.ID(), key)
	if !errors.Is(err, vaulterr.ErrFailedToLoadVaultInfo) || !errors.Is(err, vaulterr.ErrNotFound) {
		t.Fatalf("expected missing manifest, got %v", err)
	}
	if v.State() != StateCreated {
		t.Fatalf("expected created state, got %s", v.State())
	}
}

func TestMissingIndexIsAnError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	_ = v.PutSecret(mustLogin(t, "a", "1"))
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, util.IndexKey("tenant", v.ID(), 1)); err != nil {
		t.Fatalf("delete index: %v", err)
	}
	_, err := m.Load(ctx, v.ID(), key)
	if !errors.Is(err, vaulterr.ErrFailedToLoadVaultIndex) || errors.Is(err, vaulterr.ErrFailedToLoadVaultInfo) {
		t.Fatalf("expected failed to load index, got %v", err)
	}
	if !strings.Contains(err.Error(), util.IndexKey("tenant", v.ID(), 1)) {
		t.Fatalf("error should name the index key: %v", err)
	}
}

func TestVerifyReportsCorruptSecret(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	good := mustLogin(t, "good", "1")
	bad := mustLogin(t, "bad", "2")
	_ = v.PutSecret(good)
	_ = v.PutSecret(bad)
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	report, err := m.Verify(ctx, v, key)
	if err != nil || !report.OK() || report.Verified != 4 {
		t.Fatalf("expected clean report, got %+v (%v)", report, err)
	}

	badKey := util.SecretKey("tenant", v.ID(), bad.ID, 1)
	if err := store.Put(ctx, badKey, strings.NewReader("garbage"), 7, nil); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	report, err = m.Verify(ctx, v, key)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.OK() || report.Verified != 3 || report.Failed != 1 {
		t.Fatalf("unexpected counts: verified=%d failed=%d", report.Verified, report.Failed)
	}
	if !errors.Is(report.Failures[badKey], vaulterr.ErrAuthenticationFailure) {
		t.Fatalf("expected authentication failure for %s, got %v", badKey, report.Failures)
	}
}

func TestDeleteAggregatesFailures(t *testing.T) {
	ctx := context.Background()
	store := &hookStore{Storage: storage.NewMemory()}
	m := newManager(t, store)
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	_ = v.PutSecret(mustLogin(t, "a", "1"))
	_ = v.PutSecret(mustLogin(t, "b", "2"))
	if err := m.Save(ctx, v, key); err != nil {
		t.Fatalf("save: %v", err)
	}

	store.failDelete = func(k string) bool { return strings.Contains(k, "/secrets/") }
	err := m.Delete(ctx, v, key)
	var multi *vaulterr.MultiError
	if !errors.As(err, &multi) {
		t.Fatalf("expected aggregated error, got %v", err)
	}
	if len(multi.Keys()) != 2 || !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Fatalf("unexpected failures: %v", multi)
	}
	for _, k := range multi.Keys() {
		if !strings.Contains(k, "/secrets/") {
			t.Fatalf("unexpected failed key %s", k)
		}
	}
	if v.State() != StateDeleted {
		t.Fatalf("manifest was removed, vault should be deleted, got %s", v.State())
	}
	if _, err := m.Load(ctx, v.ID(), key); !errors.Is(err, vaulterr.ErrFailedToLoadVaultInfo) {
		t.Fatalf("expected failed to load vault info, got %v", err)
	}
}

func TestListVaults(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m := newManager(t, store)
	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		v, _ := m.Create(fmt.Sprintf("v%d", i), "")
		if err := m.Save(ctx, v, passKey(t, v.Info(), "pw")); err != nil {
			t.Fatalf("save: %v", err)
		}
		ids[v.ID()] = true
	}
	unsaved, _ := m.Create("unsaved", "")

	list, err := m.ListVaults(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 vaults, got %d", len(list))
	}
	for _, l := range list {
		if !ids[l.ID] || l.ID == unsaved.ID() || l.Manifest.Revision() != 1 {
			t.Fatalf("unexpected listing %+v", l)
		}
	}
}

func TestSecretAccessors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, storage.NewMemory())
	v, _ := m.Create("v", "")
	key := passKey(t, v.Info(), "pw")
	gh, _ := secret.NewLogin("github", "alice", "x", "", time.Now())
	gl, _ := secret.NewLogin("gitlab", "alice", "y", "", time.Now())
	note, _ := secret.NewNote("groceries", "milk", time.Now())
	for _, s := range []secret.Secret{gh, gl, note} {
		if err := v.PutSecret(s); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if v.Pending() != 3 {
		t.Fatalf("expected 3 pending, got %d", v.Pending())
	}
	staged, err := m.Secret(ctx, v, note.ID, key)
	if err != nil || staged.Meta().ID != note.ID {
		t.Fatalf("staged secret not returned: %v", err)
	}
	hits := v.Find("GIT")
	if len(hits) != 2 {
		t.Fatalf("expected two fuzzy hits, got %+v", hits)
	}
	if len(v.Find("")) != 3 {
		t.Fatalf("empty query should match all")
	}
	if _, err := m.Secret(ctx, v, "nope", key); !errors.Is(err, vaulterr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := v.RemoveSecret("nope"); !errors.Is(err, vaulterr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := m.Save(ctx, v, "not-a-key"); !errors.Is(err, vaulterr.ErrInvalidArgument) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
