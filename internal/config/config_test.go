// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const yamlConfig = `
data:
  dir: "/var/lib/aethos"
  key_file: "/etc/aethos/master.key"

database:
  driver: "sqlite3"
  busy_timeout: "2s"

keyring:
  enabled: false
  service: "test.service"

chat:
  providers:
    openai: "https://api.openai.com/v1/chat/completions"
    local: "http://127.0.0.1:8080/v1/chat/completions"
  fallback_model: "gpt-test"
  request_timeout: "10s"
  stream_timeout: "2m"
  title_policy: "strict"
  title_max_length: 40

logging:
  level: "debug"
  format: "json"
`

const tomlConfig = `
[data]
dir = "/var/lib/aethos"
key_file = "/etc/aethos/master.key"

[database]
driver = "sqlite3"
busy_timeout = "2s"

[keyring]
enabled = false
service = "test.service"

[chat]
fallback_model = "gpt-test"
request_timeout = "10s"
stream_timeout = "2m"
title_policy = "strict"
title_max_length = 40

[chat.providers]
openai = "https://api.openai.com/v1/chat/completions"
local = "http://127.0.0.1:8080/v1/chat/completions"

[logging]
level = "debug"
format = "json"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func checkFullConfig(t *testing.T, cfg *Config) {
	t.Helper()

	if cfg.Data.Dir != "/var/lib/aethos" {
		t.Errorf("Data.Dir = %q, want %q", cfg.Data.Dir, "/var/lib/aethos")
	}
	if want := filepath.Join("/var/lib/aethos", "aethos.db"); cfg.Data.DatabasePath != want {
		t.Errorf("Data.DatabasePath = %q, want %q", cfg.Data.DatabasePath, want)
	}
	if cfg.Data.KeyFile != "/etc/aethos/master.key" {
		t.Errorf("Data.KeyFile = %q, want %q", cfg.Data.KeyFile, "/etc/aethos/master.key")
	}

	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Database.BusyTimeout != 2*time.Second {
		t.Errorf("Database.BusyTimeout = %v, want 2s", cfg.Database.BusyTimeout)
	}

	if cfg.Keyring.IsEnabled() {
		t.Error("Keyring.IsEnabled() = true, want false")
	}
	if cfg.Keyring.Service != "test.service" {
		t.Errorf("Keyring.Service = %q, want test.service", cfg.Keyring.Service)
	}
	if cfg.Keyring.Account != DefaultKeyringAccount {
		t.Errorf("Keyring.Account = %q, want %q", cfg.Keyring.Account, DefaultKeyringAccount)
	}

	if len(cfg.Chat.Providers) != 2 {
		t.Errorf("Chat.Providers len = %d, want 2", len(cfg.Chat.Providers))
	}
	if cfg.Chat.Providers["local"] != "http://127.0.0.1:8080/v1/chat/completions" {
		t.Errorf("Chat.Providers[local] = %q", cfg.Chat.Providers["local"])
	}
	if cfg.Chat.FallbackModel != "gpt-test" {
		t.Errorf("Chat.FallbackModel = %q, want gpt-test", cfg.Chat.FallbackModel)
	}
	if cfg.Chat.RequestTimeout != 10*time.Second {
		t.Errorf("Chat.RequestTimeout = %v, want 10s", cfg.Chat.RequestTimeout)
	}
	if cfg.Chat.StreamTimeout != 2*time.Minute {
		t.Errorf("Chat.StreamTimeout = %v, want 2m", cfg.Chat.StreamTimeout)
	}
	if cfg.Chat.TitlePolicy != "strict" {
		t.Errorf("Chat.TitlePolicy = %q, want strict", cfg.Chat.TitlePolicy)
	}
	if cfg.Chat.TitleMaxLength != 40 {
		t.Errorf("Chat.TitleMaxLength = %d, want 40", cfg.Chat.TitleMaxLength)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkFullConfig(t, cfg)
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.toml", tomlConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkFullConfig(t, cfg)
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := Load(writeConfig(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Data.Dir != "/tmp/xdg-data/aethos" {
		t.Errorf("Data.Dir = %q, want /tmp/xdg-data/aethos", cfg.Data.Dir)
	}
	if cfg.Data.DatabasePath != "/tmp/xdg-data/aethos/aethos.db" {
		t.Errorf("Data.DatabasePath = %q", cfg.Data.DatabasePath)
	}
	if cfg.Data.KeyFile != "/tmp/xdg-data/aethos/master.key" {
		t.Errorf("Data.KeyFile = %q", cfg.Data.KeyFile)
	}
	if cfg.Database.Driver != DefaultDriver {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DefaultDriver)
	}
	if cfg.Database.BusyTimeout != DefaultBusyTimeout {
		t.Errorf("Database.BusyTimeout = %v, want %v", cfg.Database.BusyTimeout, DefaultBusyTimeout)
	}
	if !cfg.Keyring.IsEnabled() {
		t.Error("Keyring.IsEnabled() = false, want true")
	}
	if cfg.Keyring.Service != DefaultKeyringService || cfg.Keyring.Account != DefaultKeyringAccount {
		t.Errorf("Keyring = %+v", cfg.Keyring)
	}
	if len(cfg.Chat.Providers) != 2 || cfg.Chat.Providers["openai"] == "" || cfg.Chat.Providers["openrouter"] == "" {
		t.Errorf("Chat.Providers = %v, want openai and openrouter", cfg.Chat.Providers)
	}
	if cfg.Chat.FallbackModel != "gpt-4o-mini" {
		t.Errorf("Chat.FallbackModel = %q", cfg.Chat.FallbackModel)
	}
	if cfg.Chat.RequestTimeout != 30*time.Second || cfg.Chat.StreamTimeout != 60*time.Second {
		t.Errorf("Chat timeouts = %v/%v, want 30s/60s", cfg.Chat.RequestTimeout, cfg.Chat.StreamTimeout)
	}
	if cfg.Chat.TitlePolicy != "best_effort" {
		t.Errorf("Chat.TitlePolicy = %q, want best_effort", cfg.Chat.TitlePolicy)
	}
	if cfg.Chat.TitleMaxLength != 60 {
		t.Errorf("Chat.TitleMaxLength = %d, want 60", cfg.Chat.TitleMaxLength)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_AETHOS_DIR", "/srv/aethos")
	t.Setenv("TEST_PROVIDER_HOST", "llm.internal:9000")

	content := `
data:
  dir: "${TEST_AETHOS_DIR}"
chat:
  providers:
    openai: "http://${TEST_PROVIDER_HOST}/v1/chat/completions"
  fallback_model: "${TEST_UNSET_MODEL_VAR}"
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Data.Dir != "/srv/aethos" {
		t.Errorf("Data.Dir = %q, want /srv/aethos", cfg.Data.Dir)
	}
	if got := cfg.Chat.Providers["openai"]; got != "http://llm.internal:9000/v1/chat/completions" {
		t.Errorf("Chat.Providers[openai] = %q", got)
	}
	// An unset variable expands to empty, which then takes the default.
	if cfg.Chat.FallbackModel != DefaultFallbackModel {
		t.Errorf("Chat.FallbackModel = %q, want %q", cfg.Chat.FallbackModel, DefaultFallbackModel)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"bad duration", "c.yaml", "chat:\n  stream_timeout: \"soon\"\n", "stream_timeout"},
		{"bad driver", "c.yaml", "database:\n  driver: \"postgres\"\n", "database.driver"},
		{"bad title policy", "c.yaml", "chat:\n  title_policy: \"sometimes\"\n", "title_policy"},
		{"bad provider url", "c.yaml", "chat:\n  providers:\n    openai: \"ftp://x\"\n", "chat.providers.openai"},
		{"bad log level", "c.yaml", "logging:\n  level: \"loud\"\n", "logging.level"},
		{"bad log format", "c.yaml", "logging:\n  format: \"xml\"\n", "logging.format"},
		{"negative title length", "c.yaml", "chat:\n  title_max_length: -1\n", "title_max_length"},
		{"invalid yaml", "c.yaml", "chat: [unclosed\n", "parsing config file"},
		{"invalid toml", "c.toml", "[chat\n", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config does not validate: %v", err)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Data.Dir = "/opt/aethos"
	cfg.Data.DatabasePath = "/opt/aethos/db.sqlite"
	cfg.Data.KeyFile = "/opt/aethos/key"
	cfg.Chat.StreamTimeout = 90 * time.Second
	cfg.Chat.TitlePolicy = "strict"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Data.DatabasePath != "/opt/aethos/db.sqlite" {
		t.Errorf("Data.DatabasePath = %q", loaded.Data.DatabasePath)
	}
	if loaded.Chat.StreamTimeout != 90*time.Second {
		t.Errorf("Chat.StreamTimeout = %v, want 1m30s", loaded.Chat.StreamTimeout)
	}
	if loaded.Chat.TitlePolicy != "strict" {
		t.Errorf("Chat.TitlePolicy = %q, want strict", loaded.Chat.TitlePolicy)
	}
	if !loaded.Keyring.IsEnabled() {
		t.Error("Keyring.IsEnabled() = false after round trip")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("AETHOS_CONFIG", "/custom/aethos.toml")
	if got := DefaultPath(); got != "/custom/aethos.toml" {
		t.Errorf("DefaultPath() = %q, want /custom/aethos.toml", got)
	}

	t.Setenv("AETHOS_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != "/xdg/aethos/config.yaml" {
		t.Errorf("DefaultPath() = %q, want /xdg/aethos/config.yaml", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_A", "alpha")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_A}", "alpha"},
		{"pre-${TEST_A}-post", "pre-alpha-post"},
		{"${TEST_UNSET_VAR_XYZ}", ""},
		{"no vars", "no vars"},
		{"$TEST_A", "$TEST_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
