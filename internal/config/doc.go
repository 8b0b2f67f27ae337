// Package config handles configuration loading for aethos.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing file is a valid setup.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AETHOS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/aethos/config.yaml
//  3. ~/.config/aethos/config.yaml
//
// Files ending in .toml are parsed as TOML; anything else is parsed as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	chat:
//	  providers:
//	    openai: "${OPENAI_BASE_URL}/v1/chat/completions"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chat:
//	  request_timeout: "30s"
//	  stream_timeout: "1m"
//
// # Configuration Sections
//
// Data:
//
//	data:
//	  dir: "~/.local/share/aethos"       # default $XDG_DATA_HOME/aethos
//	  database_path: "/path/aethos.db"   # default <dir>/aethos.db
//	  key_file: "/path/master.key"       # default <dir>/master.key
//
// Database:
//
//	database:
//	  driver: "sqlite"      # sqlite (pure Go) or sqlite3 (cgo)
//	  busy_timeout: "5s"
//
// Keyring:
//
//	keyring:
//	  enabled: true
//	  service: "com.aethos.config"
//	  account: "encryption-master"
//
// Chat:
//
//	chat:
//	  providers:
//	    openai: "https://api.openai.com/v1/chat/completions"
//	    openrouter: "https://openrouter.ai/api/v1/chat/completions"
//	  fallback_model: "gpt-4o-mini"
//	  request_timeout: "30s"
//	  stream_timeout: "60s"
//	  title_policy: "best_effort"   # or strict
//	  title_max_length: 60
//
// Logging:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text or json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
