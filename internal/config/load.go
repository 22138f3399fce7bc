package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/secret-vault/internal/cryptoutil"
)

const (
	envPrefix = "SVAULT"
	appName   = "svault"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			vp.SetConfigType(configTypeFromPath(resolved))
			key := os.Getenv(envPrefix + "_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but " + envPrefix + "_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			err := vp.ReadConfig(bytes.NewReader(plain))
			cryptoutil.Zero(plain)
			if err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		appName + ".yaml",
		appName + ".yml",
		appName + ".toml",
		appName + ".json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, appName)
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range candidates[:3] {
			p := filepath.Join(base, c+".enc")
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch {
	case strings.HasSuffix(base, ".toml"):
		return "toml"
	case strings.HasSuffix(base, ".json"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "console")
	vp.SetDefault("global.operation_timeout", "10m")
	vp.SetDefault("storage.backend", "local")
	vp.SetDefault("storage.local.path", "./vaults")
	vp.SetDefault("storage.mongo.database", appName)
	vp.SetDefault("storage.mongo.collection", "objects")
	vp.SetDefault("vault.compression", "zstd/1")
	vp.SetDefault("vault.cipher", "aes-256-gcm/1")
	vp.SetDefault("vault.encrypted_storage", "e2e/1")
	vp.SetDefault("vault.kdf", "argon2id/1")
	vp.SetDefault("vault.concurrency", 4)
	vp.SetDefault("retry.attempts", 3)
	vp.SetDefault("retry.backoff", "2s")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = 2 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 1
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 10 * time.Minute
	}
	if cfg.Global.LockFile == "" {
		cfg.Global.LockFile = filepath.Join(os.TempDir(), appName+".lock")
	}
}

func expandEnv(cfg *Config) {
	cfg.Storage.S3.AccessKey = os.ExpandEnv(cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = os.ExpandEnv(cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.SessionToken = os.ExpandEnv(cfg.Storage.S3.SessionToken)
	cfg.Storage.Mongo.URI = os.ExpandEnv(cfg.Storage.Mongo.URI)
	cfg.Storage.Local.Path = os.ExpandEnv(cfg.Storage.Local.Path)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
		for k, v := range cfg.Webhooks[i].Headers {
			cfg.Webhooks[i].Headers[k] = os.ExpandEnv(v)
		}
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	defer cryptoutil.Zero(parsed)
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
