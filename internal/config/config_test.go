package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// isolate points the default config lookup at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if want := filepath.Join(dir, "tracksync"); cfg.DataDir != want {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want)
	}
	if cfg.Daemon.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %s, want 5m", cfg.Daemon.SyncInterval)
	}
	if !cfg.Daemon.WatchStore || !cfg.Daemon.SyncOnStart {
		t.Errorf("daemon defaults = %+v", cfg.Daemon)
	}
	if cfg.DBPath() != filepath.Join(cfg.DataDir, "tracksync.db") {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "tracksync.yaml",
			content: `data_dir: /var/lib/tracksync
remote:
  url: http://localhost:9000
  timeout: 5s
daemon:
  sync_interval: 1m
  watch_store: false
`,
		},
		{
			name: "toml",
			file: "tracksync.toml",
			content: `data_dir = "/var/lib/tracksync"

[remote]
url = "http://localhost:9000"
timeout = "5s"

[daemon]
sync_interval = "1m"
watch_store = false
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			t.Setenv("TRACKSYNC_REMOTE_TOKEN", "secret")
			t.Setenv("TRACKSYNC_DAEMON_SYNC_INTERVAL", "90s")

			cfg, _, err := Load(path)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}

			if cfg.DataDir != "/var/lib/tracksync" {
				t.Errorf("DataDir = %q", cfg.DataDir)
			}
			if cfg.Remote.URL != "http://localhost:9000" || cfg.Remote.Timeout != 5*time.Second {
				t.Errorf("Remote = %+v", cfg.Remote)
			}
			if cfg.Remote.Token != "secret" {
				t.Errorf("Token = %q, want value from environment", cfg.Remote.Token)
			}
			if cfg.Daemon.SyncInterval != 90*time.Second {
				t.Errorf("SyncInterval = %s, want environment to win over file", cfg.Daemon.SyncInterval)
			}
			if cfg.Daemon.WatchStore {
				t.Error("WatchStore = true, want false from file")
			}
			// Untouched keys keep their defaults.
			if cfg.Remote.MaxRetries != 2 {
				t.Errorf("MaxRetries = %d, want default 2", cfg.Remote.MaxRetries)
			}
		})
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	if _, _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"remote", func(c *Config) { c.Remote.URL = "https://track.example.com" }, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"ftp remote", func(c *Config) { c.Remote.URL = "ftp://example.com" }, true},
		{"negative timeout", func(c *Config) { c.Remote.Timeout = -time.Second }, true},
		{"negative retries", func(c *Config) { c.Remote.MaxRetries = -1 }, true},
		{"negative interval", func(c *Config) { c.Daemon.SyncInterval = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Token = "secret"

	tests := []struct {
		format string
		want   []string
	}{
		{"yaml", []string{"sync_interval: 5m0s", "token: "}},
		{"toml", []string{`sync_interval = "5m0s"`, `token = "********"`, "[daemon]"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			data, err := cfg.Render(tt.format)
			if err != nil {
				t.Fatalf("Render(%s) failed: %v", tt.format, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(string(data), want) {
					t.Errorf("Render(%s) missing %q:\n%s", tt.format, want, data)
				}
			}
			if strings.Contains(string(data), "secret") {
				t.Errorf("Render(%s) leaked the token", tt.format)
			}
		})
	}

	if _, err := cfg.Render("ini"); err == nil {
		t.Error("Render(ini) should fail")
	}
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	for _, ext := range []string{"yaml", "toml"} {
		t.Run(ext, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "conf", "tracksync."+ext)

			if err := WriteDefault(path); err != nil {
				t.Fatalf("WriteDefault() failed: %v", err)
			}
			if err := WriteDefault(path); err == nil {
				t.Error("second WriteDefault() should refuse to overwrite")
			}

			cfg, _, err := Load(path)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if cfg.Daemon.DebounceInterval != 2*time.Second {
				t.Errorf("DebounceInterval = %s, want 2s", cfg.Daemon.DebounceInterval)
			}
		})
	}
}

func TestLogWriter(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LogWriter() != os.Stderr {
		t.Error("LogWriter() without a file should be stderr")
	}

	cfg.Log.File = filepath.Join(t.TempDir(), "tracksync.log")
	lj, ok := cfg.LogWriter().(*lumberjack.Logger)
	if !ok {
		t.Fatalf("LogWriter() = %T, want *lumberjack.Logger", cfg.LogWriter())
	}
	if lj.Filename != cfg.Log.File || lj.MaxSize != 10 {
		t.Errorf("lumberjack = %+v", lj)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "sync").Print("hello")
	if !strings.Contains(buf.String(), "[sync] ") {
		t.Errorf("log line %q has no component prefix", buf.String())
	}
}
