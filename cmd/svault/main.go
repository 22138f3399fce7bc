package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rowjay/secret-vault/internal/app"
	"github.com/rowjay/secret-vault/internal/config"
	"github.com/rowjay/secret-vault/internal/cryptoutil"
	"github.com/rowjay/secret-vault/internal/logging"
	"github.com/rowjay/secret-vault/internal/notify"
	"github.com/rowjay/secret-vault/internal/storage"
	"github.com/rowjay/secret-vault/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	Storage     string
	Prefix      string
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    string
	S3PathStyle string
	MongoURI    string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:           "svault",
		Short:         "Client-side encrypted secret vaults on object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.Storage, "storage", "", "Storage backend (local, memory, s3, mongo)")
	rootCmd.PersistentFlags().StringVar(&overrides.Prefix, "prefix", "", "Object key prefix")
	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "storage-path", "", "Local storage path")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.MongoURI, "mongo-uri", "", "MongoDB connection URI")

	rootCmd.AddCommand(newCreateCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newShowCmd(root, overrides))
	rootCmd.AddCommand(newVerifyCmd(root, overrides))
	rootCmd.AddCommand(newDeleteCmd(root, overrides))
	rootCmd.AddCommand(newSecretCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// session is what every vault command needs: the app and a bounded context.
type session struct {
	app    *app.App
	ctx    context.Context
	cancel context.CancelFunc
	close  func()
}

func (s *session) Close() {
	s.cancel()
	if s.close != nil {
		s.close()
	}
}

func openSession(root *rootFlags, overrides *overrideFlags) (*session, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.OperationTimeout)
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		cancel()
		return nil, err
	}
	appSvc, err := app.New(cfg, store, logger, notify.FromConfig(cfg.Notifications))
	if err != nil {
		cancel()
		return nil, err
	}
	s := &session{app: appSvc, ctx: ctx, cancel: cancel}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		s.close = func() { _ = closer.Close(context.Background()) }
	}
	return s, nil
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file (.enc)")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	genkey := &cobra.Command{
		Use:   "genkey",
		Short: "Print a random key suitable for SVAULT_CONFIG_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := cryptoutil.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k)
			return nil
		},
	}

	cmd.AddCommand(encrypt, genkey)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "svault %s (commit %s, built %s, engine %s)\n",
				version.Version, version.Commit, version.Date, version.EngineVersion)
		},
	}
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.Prefix != "" {
		cfg.Storage.Prefix = overrides.Prefix
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}
	if overrides.MongoURI != "" {
		cfg.Storage.Mongo.URI = overrides.MongoURI
	}

	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
}
