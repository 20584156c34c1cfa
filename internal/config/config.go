// Package config loads runtime configuration from JSONC files and the
// environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config holds runtime settings.
type Config struct {
	// DataDir is where the database lives. Defaults to ~/.parley.
	DataDir string `json:"dataDir,omitempty"`
	// DBPath overrides the database file location.
	DBPath string `json:"dbPath,omitempty"`
	// LogLevel is the minimum log level (debug|info|warn|error).
	LogLevel string `json:"logLevel,omitempty"`
	// Provider and Model are the defaults for new sessions.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	// AgentID is the default agent for new sessions.
	AgentID string `json:"agentID,omitempty"`
	// MaxSteps optionally lowers the step ceiling for a single run.
	MaxSteps int `json:"maxSteps,omitempty"`
}

// Load reads configuration in priority order: global config, project
// config, then environment variables. A .env file in the working directory
// is honored first so env overrides can live there.
func Load(directory string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if home, err := os.UserHomeDir(); err == nil {
		loadFile(filepath.Join(home, ".config", "parley", "parley.json"), cfg)
		loadFile(filepath.Join(home, ".config", "parley", "parley.jsonc"), cfg)
	}
	if directory != "" {
		loadFile(filepath.Join(directory, "parley.json"), cfg)
		loadFile(filepath.Join(directory, "parley.jsonc"), cfg)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// DatabasePath returns the resolved database file location.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "parley.db")
}

func loadFile(path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var file Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return
	}
	merge(cfg, &file)
}

func merge(dst, src *Config) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.DBPath != "" {
		dst.DBPath = src.DBPath
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.AgentID != "" {
		dst.AgentID = src.AgentID
	}
	if src.MaxSteps > 0 {
		dst.MaxSteps = src.MaxSteps
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PARLEY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PARLEY_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("PARLEY_AGENT"); v != "" {
		cfg.AgentID = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".parley")
		} else {
			cfg.DataDir = ".parley"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "default"
	}
}
