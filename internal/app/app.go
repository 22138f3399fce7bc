// Package app wires configuration, storage, locking, retries and
// notifications around the vault manager for the command line.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/secret-vault/internal/config"
	"github.com/rowjay/secret-vault/internal/lock"
	"github.com/rowjay/secret-vault/internal/notify"
	"github.com/rowjay/secret-vault/internal/secret"
	"github.com/rowjay/secret-vault/internal/secure"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/util"
	"github.com/rowjay/secret-vault/internal/vault"
)

type App struct {
	Cfg      *config.Config
	Storage  storage.Storage
	Manager  *vault.Manager
	Log      zerolog.Logger
	Notifier notify.Notifier
}

func New(cfg *config.Config, store storage.Storage, log zerolog.Logger, notifier notify.Notifier) (*App, error) {
	mgr, err := vault.NewManager(store, vault.DefaultRegistry(), log, vault.Options{
		Prefix:      cfg.Storage.Prefix,
		Concurrency: cfg.Vault.Concurrency,
		Services: vault.Services{
			Compression:      cfg.Vault.Compression,
			Crypto:           cfg.Vault.Cipher,
			EncryptedStorage: cfg.Vault.EncryptedStorage,
		},
		KDF:       cfg.Vault.KDF,
		KDFParams: cfg.Vault.KDFParams,
	})
	if err != nil {
		return nil, err
	}
	return &App{Cfg: cfg, Storage: store, Manager: mgr, Log: log, Notifier: notifier}, nil
}

// CreateVault creates and saves a new vault keyed by pass. It returns the
// derived key so callers can keep working without deriving again.
func (a *App) CreateVault(ctx context.Context, name, description string, pass *secure.Buffer, opts ...vault.CreateOption) (v *vault.Vault, key string, err error) {
	start := time.Now()
	defer func() { a.notify("create", "create vault", v, start, err) }()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, "", err
	}
	defer guard.Release()

	v, err = a.Manager.Create(name, description, opts...)
	if err != nil {
		return nil, "", err
	}
	key, err = a.Manager.Registry().DeriveKey(v.Info(), pass)
	if err != nil {
		return v, "", err
	}
	if err = a.retry(ctx, func() error { return a.Manager.Save(ctx, v, key) }); err != nil {
		return v, "", err
	}
	return v, key, nil
}

// Open derives the key of vault id from pass and loads it.
func (a *App) Open(ctx context.Context, id string, pass *secure.Buffer) (*vault.Vault, string, error) {
	var key string
	err := a.retry(ctx, func() error {
		var err error
		key, err = a.Manager.DeriveKey(ctx, id, pass)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	var v *vault.Vault
	err = a.retry(ctx, func() error {
		var err error
		v, err = a.Manager.Load(ctx, id, key)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return v, key, nil
}

// Save persists pending changes of v under the host lock.
func (a *App) Save(ctx context.Context, v *vault.Vault, key string) (err error) {
	start := time.Now()
	defer func() { a.notify("save", "save vault", v, start, err) }()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer guard.Release()
	return a.retry(ctx, func() error { return a.Manager.Save(ctx, v, key) })
}

// PutSecret adds or replaces s in vault id and saves. A secret with the
// same name and kind as an existing one takes over its id.
func (a *App) PutSecret(ctx context.Context, id string, pass *secure.Buffer, s secret.Secret) (*vault.Vault, error) {
	v, key, err := a.Open(ctx, id, pass)
	if err != nil {
		return nil, err
	}
	for _, e := range v.Entries() {
		if e.Name == s.Meta().Name && e.Type == s.Meta().Kind {
			prev, err := a.Manager.Secret(ctx, v, e.ID, key)
			if err != nil {
				return nil, err
			}
			secret.Adopt(s, prev)
			break
		}
	}
	if err := v.PutSecret(s); err != nil {
		return nil, err
	}
	return v, a.Save(ctx, v, key)
}

// RemoveSecret drops secretID from vault id and saves.
func (a *App) RemoveSecret(ctx context.Context, id string, pass *secure.Buffer, secretID string) error {
	v, key, err := a.Open(ctx, id, pass)
	if err != nil {
		return err
	}
	if err := v.RemoveSecret(secretID); err != nil {
		return err
	}
	return a.Save(ctx, v, key)
}

// Secret reads one secret of vault id.
func (a *App) Secret(ctx context.Context, id string, pass *secure.Buffer, secretID string) (secret.Secret, error) {
	v, key, err := a.Open(ctx, id, pass)
	if err != nil {
		return nil, err
	}
	var s secret.Secret
	err = a.retry(ctx, func() error {
		var err error
		s, err = a.Manager.Secret(ctx, v, secretID, key)
		return err
	})
	return s, err
}

// DeleteVault removes every object of vault id. It is not retried: a partial
// delete has already removed the manifest.
func (a *App) DeleteVault(ctx context.Context, id string, pass *secure.Buffer) (err error) {
	start := time.Now()
	var v *vault.Vault
	defer func() { a.notify("delete", "delete vault", v, start, err) }()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer guard.Release()

	v, key, err := a.Open(ctx, id, pass)
	if err != nil {
		return err
	}
	return a.Manager.Delete(ctx, v, key)
}

// Verify checks every object of the current revision of vault id.
func (a *App) Verify(ctx context.Context, id string, pass *secure.Buffer) (report *vault.VerifyReport, err error) {
	start := time.Now()
	var v *vault.Vault
	defer func() {
		if err == nil && !report.OK() {
			a.notify("verify", "verify vault", v, start, fmt.Errorf("%d object(s) failed verification", report.Failed))
			return
		}
		a.notify("verify", "verify vault", v, start, err)
	}()

	v, key, err := a.Open(ctx, id, pass)
	if err != nil {
		return nil, err
	}
	return a.Manager.Verify(ctx, v, key)
}

// List returns the vaults visible in the configured storage.
func (a *App) List(ctx context.Context) ([]vault.Listing, error) {
	var out []vault.Listing
	err := a.retry(ctx, func() error {
		var err error
		out, err = a.Manager.ListVaults(ctx)
		return err
	})
	return out, err
}

func (a *App) retry(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, a.Cfg.Retry.Attempts, a.Cfg.Retry.Backoff, fn)
}

func (a *App) notify(typ, message string, v *vault.Vault, start time.Time, opErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      typ,
		Message:   message,
		Status:    statusFromErr(opErr),
		Backend:   a.Storage.Name(),
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if v != nil {
		event.VaultID = v.ID()
		event.Revision = v.Revision()
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Notifier.Notify(ctx, event); err != nil {
		a.Log.Warn().Err(err).Str("event", typ).Msg("notification failed")
	}
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}
