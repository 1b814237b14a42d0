package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	PlatformsFile  string `mapstructure:"platforms_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	SQLitePath             string        `mapstructure:"sqlite_path"`
	PollStateTTLSeconds    int64         `mapstructure:"poll_state_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	PollStateTTL           time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`

	MaxSeenIDs        int           `mapstructure:"max_seen_ids"`
	MaxPostAgeSeconds int64         `mapstructure:"max_post_age_seconds"`
	MaxPostAge        time.Duration `mapstructure:"-"`
	FetchIntervalMs   int64         `mapstructure:"fetch_interval_ms"`
	FetchInterval     time.Duration `mapstructure:"-"`
	HTTPTimeoutSecs   int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout       time.Duration `mapstructure:"-"`

	DialogTimeoutSeconds int64         `mapstructure:"dialog_timeout_seconds"`
	DialogJanitorSeconds int64         `mapstructure:"dialog_janitor_seconds"`
	DialogTimeout        time.Duration `mapstructure:"-"`
	DialogJanitor        time.Duration `mapstructure:"-"`

	RenderURL            string        `mapstructure:"render_url"`
	RenderAttempts       int           `mapstructure:"render_attempts"`
	RenderTimeoutSeconds int64         `mapstructure:"render_timeout_seconds"`
	RenderConcurrency    int64         `mapstructure:"render_concurrency"`
	RenderTimeout        time.Duration `mapstructure:"-"`

	GatewayAddr string `mapstructure:"gateway_addr"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "samvad-notifier")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("platforms_file", "./configs/platforms.yaml")
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/notifier.db")
	v.SetDefault("sqlite_path", "./data/notifier.sqlite")
	v.SetDefault("poll_state_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("max_seen_ids", 2000)
	v.SetDefault("max_post_age_seconds", int64((2*time.Hour)/time.Second))
	v.SetDefault("fetch_interval_ms", 500)
	v.SetDefault("http_timeout_seconds", 15)
	v.SetDefault("dialog_timeout_seconds", 300)
	v.SetDefault("dialog_janitor_seconds", 60)
	v.SetDefault("render_url", "")
	v.SetDefault("render_attempts", 3)
	v.SetDefault("render_timeout_seconds", 20)
	v.SetDefault("render_concurrency", 2)
	v.SetDefault("gateway_addr", ":8080")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize validates the raw numeric settings and derives durations from them.
func (cfg *Config) normalize() error {
	if cfg.PollStateTTLSeconds <= 0 {
		return fmt.Errorf("invalid poll_state_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	if cfg.DialogTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid dialog_timeout_seconds (must be positive seconds)")
	}
	if cfg.DialogJanitorSeconds <= 0 {
		return fmt.Errorf("invalid dialog_janitor_seconds (must be positive seconds)")
	}
	if cfg.HTTPTimeoutSecs <= 0 {
		return fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	if cfg.RenderAttempts <= 0 {
		return fmt.Errorf("invalid render_attempts (must be positive)")
	}
	if cfg.RenderTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid render_timeout_seconds (must be positive seconds)")
	}
	if cfg.RenderConcurrency <= 0 {
		return fmt.Errorf("invalid render_concurrency (must be positive)")
	}
	if cfg.MaxSeenIDs < 0 || cfg.MaxPostAgeSeconds < 0 || cfg.FetchIntervalMs < 0 {
		return fmt.Errorf("max_seen_ids, max_post_age_seconds and fetch_interval_ms must not be negative")
	}

	cfg.PollStateTTL = time.Duration(cfg.PollStateTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second
	cfg.MaxPostAge = time.Duration(cfg.MaxPostAgeSeconds) * time.Second
	cfg.FetchInterval = time.Duration(cfg.FetchIntervalMs) * time.Millisecond
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSecs) * time.Second
	cfg.DialogTimeout = time.Duration(cfg.DialogTimeoutSeconds) * time.Second
	cfg.DialogJanitor = time.Duration(cfg.DialogJanitorSeconds) * time.Second
	cfg.RenderTimeout = time.Duration(cfg.RenderTimeoutSeconds) * time.Second
	return nil
}

// StoragePath returns the file path of the selected storage backend.
func (cfg *Config) StoragePath() string {
	if cfg.StorageType == "sqlite" {
		return cfg.SQLitePath
	}
	return cfg.BBoltPath
}
