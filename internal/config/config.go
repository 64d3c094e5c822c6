package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level worker configuration, loaded from a YAML file
// with environment-variable overrides.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig locates the SQLite archive database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig tunes the sync loop.
type WorkerConfig struct {
	// DefaultPollIntervalSec is used for accounts that do not configure
	// their own interval, and as the sleep between cycles when no
	// account does.
	DefaultPollIntervalSec int `mapstructure:"default_poll_interval_sec"`

	// OpTimeoutSec bounds every network operation against a mail server.
	OpTimeoutSec int `mapstructure:"op_timeout_sec"`

	// ShutdownGraceSec is how long in-flight connections get to log out
	// cleanly when the process is asked to stop.
	ShutdownGraceSec int `mapstructure:"shutdown_grace_sec"`
}

// ScannerConfig configures the ClamAV classifier. When disabled or
// unreachable the engine archives everything as clean.
type ScannerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	MaxBytes int    `mapstructure:"max_bytes"`
}

// SecurityConfig holds the master key used to decrypt account secrets.
// When MasterKey is empty the key is looked up in the OS keyring.
type SecurityConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// LoggingConfig controls log verbosity and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultPollInterval returns the configured default poll interval.
func (c WorkerConfig) DefaultPollInterval() time.Duration {
	if c.DefaultPollIntervalSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DefaultPollIntervalSec) * time.Second
}

// OpTimeout returns the per-operation network timeout.
func (c WorkerConfig) OpTimeout() time.Duration {
	if c.OpTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.OpTimeoutSec) * time.Second
}

// ShutdownGrace returns the shutdown grace period.
func (c WorkerConfig) ShutdownGrace() time.Duration {
	if c.ShutdownGraceSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownGraceSec) * time.Second
}

// Load reads configuration from path (or the default search paths when
// path is empty), applies defaults, and allows MAIL_ARCHIVER_* env vars
// to override any key.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mail-archiver/")
		v.AddConfigPath("$HOME/.config/mail-archiver")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("MAIL_ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file found; defaults plus env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "/data/mail-archiver.db")

	v.SetDefault("worker.default_poll_interval_sec", 300)
	v.SetDefault("worker.op_timeout_sec", 30)
	v.SetDefault("worker.shutdown_grace_sec", 10)

	v.SetDefault("scanner.enabled", false)
	v.SetDefault("scanner.address", "tcp://clamav:3310")
	v.SetDefault("scanner.max_bytes", 25*1024*1024)

	v.SetDefault("security.master_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
