// Package config loads runtime configuration from hive.yaml with defaults
// for anything missing. Secrets come from the environment, never the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agenthive configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Bus          BusConfig          `yaml:"bus"`
	Agents       AgentsConfig       `yaml:"agents"`
	Conversation ConversationConfig `yaml:"conversation"`
	Artifacts    ArtifactsConfig    `yaml:"artifacts"`
	Media        MediaConfig        `yaml:"media"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig configures the reasoning provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// BusConfig configures message delivery.
type BusConfig struct {
	// DefaultWaitTimeout bounds wait_for_message when the caller gives none.
	DefaultWaitTimeout string `yaml:"default_wait_timeout"`
}

// AgentsConfig configures the agent registry.
type AgentsConfig struct {
	RootRole   string `yaml:"root_role"`
	BasePrompt string `yaml:"base_prompt"`

	// SpawnBudget caps children per agent; 0 means unbounded.
	SpawnBudget int `yaml:"spawn_budget"`
}

// ConversationConfig configures history compression.
type ConversationConfig struct {
	// CompressionThreshold is the entry count that triggers compression.
	CompressionThreshold int `yaml:"compression_threshold"`

	// KeepRecent is how many trailing entries survive verbatim.
	KeepRecent int `yaml:"keep_recent"`
}

// ArtifactsConfig configures artifact persistence.
type ArtifactsConfig struct {
	// Backend selects "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// DatabasePath locates the SQLite file when backend is sqlite.
	DatabasePath string `yaml:"database_path"`
}

// MediaConfig configures the long-running processor.
type MediaConfig struct {
	// Binary is the external processor invoked by the media module.
	Binary string `yaml:"binary"`

	// RunTimeout bounds one background run.
	RunTimeout string `yaml:"run_timeout"`
}

// LoggingConfig configures the category file loggers. The serve command maps
// it onto logging.Settings at startup; an empty category list enables every
// category.
type LoggingConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Level      string   `yaml:"level"` // debug, info, warn, error
	Categories []string `yaml:"categories"`
	JSONFormat bool     `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agenthive",
		Version: "0.3.0",

		Server: ServerConfig{
			Addr:            ":8420",
			ShutdownTimeout: "10s",
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},
		Bus: BusConfig{
			DefaultWaitTimeout: "10s",
		},
		Agents: AgentsConfig{
			RootRole:   "coordinator",
			BasePrompt: "You are an agent in a cooperating hive. Use your tools; report results back to whoever assigned your task.",
		},
		Conversation: ConversationConfig{
			CompressionThreshold: 40,
			KeepRecent:           10,
		},
		Artifacts: ArtifactsConfig{
			Backend:      "sqlite",
			DatabasePath: ".hive/artifacts.db",
		},
		Media: MediaConfig{
			Binary:     "ffmpeg",
			RunTimeout: "10m",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// Load reads YAML configuration from path. A missing file yields defaults;
// a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if addr := os.Getenv("HIVE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("HIVE_DB"); path != "" {
		c.Artifacts.DatabasePath = path
	}
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "mock"}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}

	switch c.Artifacts.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid artifacts backend: %s (valid: memory, sqlite)", c.Artifacts.Backend)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Conversation.KeepRecent >= c.Conversation.CompressionThreshold && c.Conversation.CompressionThreshold > 0 {
		return fmt.Errorf("conversation keep_recent (%d) must be below compression_threshold (%d)",
			c.Conversation.KeepRecent, c.Conversation.CompressionThreshold)
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetDefaultWaitTimeout returns the bus wait default as a duration.
func (c *Config) GetDefaultWaitTimeout() time.Duration {
	d, err := time.ParseDuration(c.Bus.DefaultWaitTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMediaRunTimeout returns the media run ceiling as a duration.
func (c *Config) GetMediaRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Media.RunTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetShutdownTimeout returns the server shutdown grace as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
