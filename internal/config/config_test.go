package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "hive.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8420" {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Conversation.CompressionThreshold != 40 {
		t.Errorf("expected default threshold 40, got %d", cfg.Conversation.CompressionThreshold)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.yaml")
	yaml := `
server:
  addr: ":9000"
llm:
  provider: mock
  timeout: 5s
artifacts:
  backend: memory
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr not overridden: %q", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("provider not overridden: %q", cfg.LLM.Provider)
	}
	if got := cfg.GetLLMTimeout(); got != 5*time.Second {
		t.Errorf("GetLLMTimeout = %v, want 5s", got)
	}
	// Untouched sections keep defaults.
	if cfg.Media.Binary != "ffmpeg" {
		t.Errorf("media binary default lost: %q", cfg.Media.Binary)
	}
}

func TestLoadLoggingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.yaml")
	yaml := `
logging:
  enabled: true
  level: debug
  categories: [bus, tools]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logging.Enabled {
		t.Error("logging enabled flag lost")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level lost: %q", cfg.Logging.Level)
	}
	if len(cfg.Logging.Categories) != 2 || cfg.Logging.Categories[0] != "bus" {
		t.Errorf("logging categories lost: %v", cfg.Logging.Categories)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with mock provider", func(c *Config) { c.LLM.Provider = "mock" }, false},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini"; c.LLM.APIKey = "" }, true},
		{"gemini with key", func(c *Config) { c.LLM.Provider = "gemini"; c.LLM.APIKey = "k" }, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "frontier" }, true},
		{"unknown backend", func(c *Config) { c.LLM.Provider = "mock"; c.Artifacts.Backend = "redis" }, true},
		{"keep_recent above threshold", func(c *Config) {
			c.LLM.Provider = "mock"
			c.Conversation.CompressionThreshold = 5
			c.Conversation.KeepRecent = 10
		}, true},
		{"unknown logging level", func(c *Config) {
			c.LLM.Provider = "mock"
			c.Logging.Level = "trace"
		}, true},
		{"empty logging level", func(c *Config) {
			c.LLM.Provider = "mock"
			c.Logging.Level = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("HIVE_ADDR", ":7777")

	cfg, err := Load(filepath.Join(t.TempDir(), "hive.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api key not taken from env: %q", cfg.LLM.APIKey)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr not taken from env: %q", cfg.Server.Addr)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hive.yaml")
	cfg := DefaultConfig()
	cfg.Server.Addr = ":1234"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Addr != ":1234" {
		t.Errorf("round trip lost addr: %q", loaded.Server.Addr)
	}
}
