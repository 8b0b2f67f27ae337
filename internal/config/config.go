// ABOUTME: Configuration loading and parsing for aethos
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultDriver         = "sqlite"
	DefaultBusyTimeout    = 5 * time.Second
	DefaultKeyringService = "com.aethos.config"
	DefaultKeyringAccount = "encryption-master"
	DefaultFallbackModel  = "gpt-4o-mini"
	DefaultRequestTimeout = 30 * time.Second
	DefaultStreamTimeout  = 60 * time.Second
	DefaultTitlePolicy    = "best_effort"
	DefaultTitleMaxLength = 60
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	databaseFileName      = "aethos.db"
	keyFileName           = "master.key"
	appDirName            = "aethos"
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenRouterURL  = "https://openrouter.ai/api/v1/chat/completions"
)

// Config represents the complete aethos configuration
type Config struct {
	Data     DataConfig     `yaml:"data" toml:"data"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Keyring  KeyringConfig  `yaml:"keyring" toml:"keyring"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DataConfig locates the on-disk state
type DataConfig struct {
	Dir          string `yaml:"dir" toml:"dir"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
	KeyFile      string `yaml:"key_file" toml:"key_file"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver      string        `yaml:"driver" toml:"driver"`
	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// KeyringConfig controls the platform secret store lookup for the master key.
// Enabled is a pointer so an absent key can default to true.
type KeyringConfig struct {
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
	Service string `yaml:"service" toml:"service"`
	Account string `yaml:"account" toml:"account"`
}

// IsEnabled reports whether the platform keyring should be consulted.
func (k KeyringConfig) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

// ChatConfig holds provider endpoints and relay settings
type ChatConfig struct {
	// Providers maps a provider id to its chat-completions endpoint. Its keys
	// are the supported providers.
	Providers      map[string]string `yaml:"providers" toml:"providers"`
	FallbackModel  string            `yaml:"fallback_model" toml:"fallback_model"`
	TitlePolicy    string            `yaml:"title_policy" toml:"title_policy"`
	TitleMaxLength int               `yaml:"title_max_length" toml:"title_max_length"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	StreamTimeout  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	StreamTimeoutRaw  string `yaml:"stream_timeout" toml:"stream_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultProviders returns the built-in provider endpoints.
func DefaultProviders() map[string]string {
	return map[string]string{
		"openai":     defaultOpenAIEndpoint,
		"openrouter": defaultOpenRouterURL,
	}
}

// Default returns a fully populated configuration for first run.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path, or returns Default() when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Write persists cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	out := *cfg
	out.Database.BusyTimeoutRaw = out.Database.BusyTimeout.String()
	out.Chat.RequestTimeoutRaw = out.Chat.RequestTimeout.String()
	out.Chat.StreamTimeoutRaw = out.Chat.StreamTimeout.String()

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Data.Dir == "" {
		c.Data.Dir = DefaultDataDir()
	}
	if c.Data.DatabasePath == "" {
		c.Data.DatabasePath = filepath.Join(c.Data.Dir, databaseFileName)
	}
	if c.Data.KeyFile == "" {
		c.Data.KeyFile = filepath.Join(c.Data.Dir, keyFileName)
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = DefaultBusyTimeout
	}

	if c.Keyring.Enabled == nil {
		enabled := true
		c.Keyring.Enabled = &enabled
	}
	if c.Keyring.Service == "" {
		c.Keyring.Service = DefaultKeyringService
	}
	if c.Keyring.Account == "" {
		c.Keyring.Account = DefaultKeyringAccount
	}

	if len(c.Chat.Providers) == 0 {
		c.Chat.Providers = DefaultProviders()
	}
	if c.Chat.FallbackModel == "" {
		c.Chat.FallbackModel = DefaultFallbackModel
	}
	if c.Chat.RequestTimeout == 0 {
		c.Chat.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chat.StreamTimeout == 0 {
		c.Chat.StreamTimeout = DefaultStreamTimeout
	}
	if c.Chat.TitlePolicy == "" {
		c.Chat.TitlePolicy = DefaultTitlePolicy
	}
	if c.Chat.TitleMaxLength == 0 {
		c.Chat.TitleMaxLength = DefaultTitleMaxLength
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Data.DatabasePath == "" {
		return fmt.Errorf("data.database_path is required")
	}
	if c.Data.KeyFile == "" {
		return fmt.Errorf("data.key_file is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	for provider, endpoint := range c.Chat.Providers {
		if strings.TrimSpace(provider) == "" {
			return fmt.Errorf("chat.providers has an empty provider id")
		}
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return fmt.Errorf("chat.providers.%s must be an http(s) URL", provider)
		}
	}

	switch c.Chat.TitlePolicy {
	case "best_effort", "strict":
	default:
		return fmt.Errorf("chat.title_policy must be best_effort or strict, got %q", c.Chat.TitlePolicy)
	}
	if c.Chat.TitleMaxLength < 0 {
		return fmt.Errorf("chat.title_max_length must not be negative")
	}
	if c.Chat.RequestTimeout < 0 || c.Chat.StreamTimeout < 0 {
		return fmt.Errorf("chat timeouts must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.busy_timeout", cfg.Database.BusyTimeoutRaw, &cfg.Database.BusyTimeout},
		{"chat.request_timeout", cfg.Chat.RequestTimeoutRaw, &cfg.Chat.RequestTimeout},
		{"chat.stream_timeout", cfg.Chat.StreamTimeoutRaw, &cfg.Chat.StreamTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// DefaultDataDir returns $XDG_DATA_HOME/aethos, falling back to
// ~/.local/share/aethos.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDirName
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

// DefaultPath returns the config file location: $AETHOS_CONFIG, else
// $XDG_CONFIG_HOME/aethos/config.yaml, else ~/.config/aethos/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("AETHOS_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appDirName, "config.yaml")
}
