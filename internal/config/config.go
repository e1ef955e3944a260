package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the static process configuration, loaded once at startup from
// YAML. Runtime-mutable options live in Settings (settings.json).
type Config struct {
	API struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"api"`

	DataDir string `yaml:"data_dir"`

	LLM struct {
		Enabled bool   `yaml:"enabled"`
		Model   string `yaml:"model"`
		// API key is taken from the environment, never from the file.
		TimeoutMs int `yaml:"timeout_ms"`
	} `yaml:"llm"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	LogLevel string `yaml:"log_level"`
}

// Load reads the YAML config at path, applying defaults and environment
// overrides (ALIBI_DATA_DIR, ALIBI_LOG_LEVEL). A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080
	cfg.DataDir = "data"
	cfg.LLM.TimeoutMs = 3000
	cfg.NATS.Subject = "alibi.incidents"
	cfg.LogLevel = "info"

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv("ALIBI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ALIBI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// Addr returns the API bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// SettingsPath returns the path of the runtime-mutable settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}
