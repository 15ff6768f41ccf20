// Package config provides configuration management for the versync system.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Storage StorageConfig `mapstructure:"storage"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Peers   []string      `mapstructure:"peers"`
	Logger  LoggerConfig  `mapstructure:"logger"`

	// PeerCheckInterval is how often peers are probed; zero disables it.
	PeerCheckInterval time.Duration `mapstructure:"peer_check_interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig describes the watched tree and where its metadata lives.
type StoreConfig struct {
	RootDir       string   `mapstructure:"root_dir"`
	MetaDir       string   `mapstructure:"meta_dir"` // relative to root_dir
	IndexFile     string   `mapstructure:"index_file"`
	ObjectDir     string   `mapstructure:"object_dir"`
	HashAlgorithm string   `mapstructure:"hash_algorithm"` // sha256, sha1, sha512, md5
	Ignore        []string `mapstructure:"ignore"`
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend string   `mapstructure:"backend"` // local_fs, badger, memory, s3
	Path    string   `mapstructure:"path"`    // empty means <root_dir>/<meta_dir>
	S3      S3Config `mapstructure:"s3"`
}

// S3Config holds the S3 backend settings.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// WatcherConfig holds filesystem watcher configuration.
type WatcherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	QueueSize    int           `mapstructure:"queue_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// Supported storage backends and hash algorithms.
var (
	Backends       = []string{"local_fs", "badger", "memory", "s3"}
	HashAlgorithms = []string{"sha256", "sha1", "sha512", "md5"}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			RootDir:       ".",
			MetaDir:       ".sync",
			IndexFile:     "index.json",
			ObjectDir:     "object",
			HashAlgorithm: "sha256",
		},
		Storage: StorageConfig{
			Backend: "local_fs",
		},
		Watcher: WatcherConfig{
			Enabled:      true,
			QueueSize:    10000,
			PollInterval: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		PeerCheckInterval: 30 * time.Second,
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			Development: false,
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("VERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for values the system cannot run with.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Storage.Backend) {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if !slices.Contains(HashAlgorithms, strings.ToLower(c.Store.HashAlgorithm)) {
		return fmt.Errorf("unknown hash algorithm %q", c.Store.HashAlgorithm)
	}
	if c.Store.IndexFile == "" {
		return fmt.Errorf("store.index_file must not be empty")
	}
	if c.Store.ObjectDir == "" {
		return fmt.Errorf("store.object_dir must not be empty")
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
	}
	return nil
}

// setDefaults sets default values in Viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.http_addr", defaults.Server.HTTPAddr)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)

	// Store defaults
	v.SetDefault("store.root_dir", defaults.Store.RootDir)
	v.SetDefault("store.meta_dir", defaults.Store.MetaDir)
	v.SetDefault("store.index_file", defaults.Store.IndexFile)
	v.SetDefault("store.object_dir", defaults.Store.ObjectDir)
	v.SetDefault("store.hash_algorithm", defaults.Store.HashAlgorithm)
	v.SetDefault("store.ignore", []string{})

	// Storage defaults
	v.SetDefault("storage.backend", defaults.Storage.Backend)
	v.SetDefault("storage.path", defaults.Storage.Path)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.key_prefix", "")
	v.SetDefault("storage.s3.force_path_style", false)

	// Watcher defaults
	v.SetDefault("watcher.enabled", defaults.Watcher.Enabled)
	v.SetDefault("watcher.queue_size", defaults.Watcher.QueueSize)
	v.SetDefault("watcher.poll_interval", defaults.Watcher.PollInterval)

	// Metrics defaults
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.path", defaults.Metrics.Path)

	v.SetDefault("peers", []string{})
	v.SetDefault("peer_check_interval", defaults.PeerCheckInterval)

	// Logger defaults
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
	v.SetDefault("logger.output", defaults.Logger.Output)
	v.SetDefault("logger.development", defaults.Logger.Development)
}
