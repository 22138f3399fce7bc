package vault

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rowjay/secret-vault/internal/util"
	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// VerifyReport summarizes an integrity check of the stored revision.
type VerifyReport struct {
	VaultID  string
	Revision int
	Verified int
	Failed   int
	// Failures maps object keys to the error reading them.
	Failures map[string]error

	mu sync.Mutex
}

// OK reports whether every object decrypted and decoded.
func (r *VerifyReport) OK() bool { return r.Failed == 0 }

func (r *VerifyReport) record(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.Failed++
		r.Failures[key] = err
		return
	}
	r.Verified++
}

// Verify decrypts and decodes the info, index and every secret payload of
// the revision currently named by the stored manifest. It never writes.
// Per-object failures are reported, not returned; the error is reserved for
// a vault that cannot be bootstrapped at all or a cancelled context.
func (m *Manager) Verify(ctx context.Context, v *Vault, base64Key string) (*VerifyReport, error) {
	if v == nil {
		return nil, vaulterr.Invalid("vault is nil")
	}
	if err := v.checkLive(); err != nil {
		return nil, err
	}
	if err := checkKey(base64Key); err != nil {
		return nil, err
	}
	report := &VerifyReport{VaultID: v.ID(), Failures: map[string]error{}}

	manifest, err := readManifest(ctx, m.store, util.ManifestKey(m.opts.Prefix, v.ID()))
	if err != nil {
		return report, err
	}
	provider, err := m.registry.Bootstrap(manifest, m.store)
	if err != nil {
		return report, err
	}
	rev := manifest.Revision()
	report.Revision = rev

	_, err = m.loadInfo(ctx, provider, v.ID(), rev, base64Key)
	report.record(util.InfoKey(m.opts.Prefix, v.ID(), rev), err)

	indexKey := util.IndexKey(m.opts.Prefix, v.ID(), rev)
	index, err := loadIndex(ctx, provider, indexKey, base64Key)
	report.record(indexKey, err)
	if err != nil {
		return report, ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, e := range index.Entries() {
		key := util.SecretKey(m.opts.Prefix, v.ID(), e.ID, e.Revision)
		id := e.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := readSecret(gctx, provider, key, id, base64Key)
			report.record(key, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	m.log.Info().Str("vault", v.ID()).Int("revision", rev).Int("verified", report.Verified).
		Int("failed", report.Failed).Msg("vault verified")
	return report, nil
}
