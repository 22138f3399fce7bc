package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rowjay/secret-vault/internal/cryptoutil"
)

const sample = `
global:
  log_level: debug
storage:
  backend: memory
  prefix: team-a
vault:
  cipher: xchacha20-poly1305/1
  kdf_params:
    time: 2
notifications:
  webhooks:
    - name: ops
      url: https://hooks.example.com/${SVAULT_TEST_HOOK}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadFileWithDefaults(t *testing.T) {
	t.Setenv("SVAULT_TEST_HOOK", "abc")
	cfg, err := Load(writeFile(t, "svault.yaml", sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Global.LogLevel != "debug" || cfg.Storage.Backend != "memory" || cfg.Storage.Prefix != "team-a" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Vault.Cipher != "xchacha20-poly1305/1" || cfg.Vault.Compression != "zstd/1" || cfg.Vault.KDF != "argon2id/1" {
		t.Fatalf("unexpected vault defaults: %+v", cfg.Vault)
	}
	if len(cfg.Vault.KDFParams) != 1 {
		t.Fatalf("unexpected kdf params: %v", cfg.Vault.KDFParams)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Backoff != 2*time.Second || cfg.Global.OperationTimeout != 10*time.Minute {
		t.Fatalf("unexpected retry/timeout defaults: %+v %+v", cfg.Retry, cfg.Global)
	}
	if len(cfg.Notifications.Webhooks) != 1 || cfg.Notifications.Webhooks[0].URL != "https://hooks.example.com/abc" {
		t.Fatalf("env not expanded: %+v", cfg.Notifications)
	}
	if cfg.Global.LockFile == "" {
		t.Fatalf("lock file default missing")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SVAULT_VAULT_ENCRYPTED_STORAGE", "sse-c/1")
	cfg, err := Load(writeFile(t, "svault.yaml", sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.EncryptedStorage != "sse-c/1" {
		t.Fatalf("env override ignored: %q", cfg.Vault.EncryptedStorage)
	}
}

func TestEncryptedConfigRoundTrip(t *testing.T) {
	key, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	plain := writeFile(t, "svault.yaml", sample)
	enc := filepath.Join(t.TempDir(), "svault.yaml.enc")
	if err := EncryptConfigFile(plain, enc, key); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := EncryptConfigFile(plain, filepath.Join(t.TempDir(), "svault.yaml"), key); err == nil {
		t.Fatalf("expected non-.enc output to be rejected")
	}

	if _, err := Load(enc); err == nil {
		t.Fatalf("expected missing key error")
	}

	t.Setenv("SVAULT_CONFIG_KEY", key)
	cfg, err := Load(enc)
	if err != nil {
		t.Fatalf("load encrypted: %v", err)
	}
	if cfg.Storage.Prefix != "team-a" {
		t.Fatalf("unexpected prefix %q", cfg.Storage.Prefix)
	}

	other, _ := cryptoutil.GenerateKey()
	t.Setenv("SVAULT_CONFIG_KEY", other)
	if _, err := Load(enc); err == nil {
		t.Fatalf("expected wrong key to fail")
	}
}
