package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, memory, s3, mongo
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Mongo   MongoStore `mapstructure:"mongo"`
	Prefix  string     `mapstructure:"prefix"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type MongoStore struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// VaultConfig holds the defaults applied to newly created vaults. Existing
// vaults always use the services recorded in their manifest.
type VaultConfig struct {
	Compression      string         `mapstructure:"compression"`       // none/1, gzip/1, zstd/1, s2/1
	Cipher           string         `mapstructure:"cipher"`            // aes-256-gcm/1, xchacha20-poly1305/1, dare/1
	EncryptedStorage string         `mapstructure:"encrypted_storage"` // e2e/1, sse-c/1
	KDF              string         `mapstructure:"kdf"`               // argon2id/1, pbkdf2-sha256/1, scrypt/1
	KDFParams        map[string]any `mapstructure:"kdf_params"`
	Concurrency      int            `mapstructure:"concurrency"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}
