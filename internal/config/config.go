// Package config loads tracksync settings from a config file, TRACKSYNC_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. TRACKSYNC_REMOTE_TOKEN.
const EnvPrefix = "TRACKSYNC"

// Config holds all tracksync settings.
type Config struct {
	// DataDir holds the record store (tracksync.db) and snapshots.
	DataDir string `mapstructure:"data_dir"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig configures the remote time-tracking service. URL is the
// service root; an empty URL leaves tracksync offline.
type RemoteConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// DaemonConfig configures background syncing.
type DaemonConfig struct {
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`
	WatchStore       bool          `mapstructure:"watch_store"`
	SyncOnStart      bool          `mapstructure:"sync_on_start"`
}

// DashboardConfig configures the WebSocket dashboard started with the daemon.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig configures log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	dataDir := "./data"
	if dir, err := DefaultDir(); err == nil {
		dataDir = dir
	}
	return &Config{
		DataDir: dataDir,
		Remote: RemoteConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Daemon: DaemonConfig{
			SyncInterval:     5 * time.Minute,
			DebounceInterval: 2 * time.Second,
			WatchStore:       true,
			SyncOnStart:      true,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7788",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// DefaultDir returns the per-user tracksync directory, honoring
// XDG_CONFIG_HOME.
func DefaultDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		if runtime.GOOS == "windows" {
			configHome = filepath.Join(homeDir, "AppData", "Roaming")
		} else {
			configHome = filepath.Join(homeDir, ".config")
		}
	}
	return filepath.Join(configHome, "tracksync"), nil
}

// Load reads the configuration. When path is empty, tracksync.{yaml,toml}
// is looked up in DefaultDir and the working directory; a missing file is
// not an error. An explicit path must exist.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tracksync")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.max_retries", d.Remote.MaxRetries)

	v.SetDefault("daemon.sync_interval", d.Daemon.SyncInterval)
	v.SetDefault("daemon.debounce_interval", d.Daemon.DebounceInterval)
	v.SetDefault("daemon.watch_store", d.Daemon.WatchStore)
	v.SetDefault("daemon.sync_on_start", d.Daemon.SyncOnStart)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote.url must be an http(s) URL (got %q)", c.Remote.URL)
		}
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative (got %s)", c.Remote.Timeout)
	}
	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries must not be negative (got %d)", c.Remote.MaxRetries)
	}
	if c.Daemon.SyncInterval < 0 || c.Daemon.DebounceInterval < 0 {
		return fmt.Errorf("daemon intervals must not be negative")
	}
	return nil
}

// DBPath returns the location of the record store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tracksync.db")
}

// LogWriter returns where logs go: a rotating file when log.file is set,
// stderr otherwise.
func (c *Config) LogWriter() io.Writer {
	if c.Log.File == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// NewLogger returns a component logger, e.g. NewLogger(w, "sync") logs
// with a "[sync] " prefix.
func NewLogger(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// settings flattens the config into nested maps keyed like the config file.
// The token is masked.
func (c *Config) settings() map[string]interface{} {
	token := ""
	if c.Remote.Token != "" {
		token = "********"
	}
	return map[string]interface{}{
		"data_dir": c.DataDir,
		"remote": map[string]interface{}{
			"url":         c.Remote.URL,
			"token":       token,
			"timeout":     c.Remote.Timeout.String(),
			"max_retries": c.Remote.MaxRetries,
		},
		"daemon": map[string]interface{}{
			"sync_interval":     c.Daemon.SyncInterval.String(),
			"debounce_interval": c.Daemon.DebounceInterval.String(),
			"watch_store":       c.Daemon.WatchStore,
			"sync_on_start":     c.Daemon.SyncOnStart,
		},
		"dashboard": map[string]interface{}{
			"enabled": c.Dashboard.Enabled,
			"addr":    c.Dashboard.Addr,
		},
		"log": map[string]interface{}{
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
	}
}

// Render encodes the effective configuration as "yaml" or "toml".
func (c *Config) Render(format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		data, err := yaml.Marshal(c.settings())
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return data, nil
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c.settings()); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %q (must be yaml or toml)", format)
}

// WriteDefault writes the default configuration to path, encoded by the
// file extension. An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	data, err := DefaultConfig().Render(format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
