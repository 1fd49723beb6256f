package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLMProviders["openrouter"].APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if _, ok := cfg.GetRecognizer("text-layer"); !ok {
		t.Error("expected text-layer recognizer")
	}
	if cfg.Pipeline.BaseDelay() != 2*time.Second || cfg.Pipeline.MaxDelay() != time.Minute {
		t.Errorf("retry delays = %v, %v, want 2s, 1m", cfg.Pipeline.BaseDelay(), cfg.Pipeline.MaxDelay())
	}
	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %s, want 127.0.0.1:8080", cfg.Server.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.Storage.Store = "mongo" }, "storage.store"},
		{"postgres without dsn", func(c *Config) { c.Storage.Store = "postgres" }, "storage.dsn"},
		{"gcs without bucket", func(c *Config) { c.Storage.Blob = "gcs" }, "storage.bucket"},
		{"unknown blob", func(c *Config) { c.Storage.Blob = "s3" }, "storage.blob"},
		{"redis without addr", func(c *Config) { c.Queue.Driver = "redis" }, "queue.redis_addr"},
		{"unknown queue", func(c *Config) { c.Queue.Driver = "kafka" }, "queue.driver"},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }, "max_retries"},
		{"shrinking backoff", func(c *Config) { c.Pipeline.BackoffFactor = 0.5 }, "backoff_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")
	t.Setenv("TEST_GCP_PROJECT", "plans-prod")

	cfg := &Config{
		Recognizers: map[string]RecognizerCfg{
			"mistral": {Type: "mistral-ocr", APIKey: "direct-key", TimeoutSeconds: 30, Enabled: true},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {Type: "openrouter", APIKey: "${TEST_OPENROUTER_KEY}", Enabled: true},
			"vertex":     {Type: "vertex", ProjectID: "${TEST_GCP_PROJECT}", Location: "us-central1"},
		},
	}

	rc := cfg.ToProviderRegistryConfig()
	if got := rc.LLMs["openrouter"].APIKey; got != "or-key-123" {
		t.Errorf("openrouter APIKey = %s, want or-key-123", got)
	}
	if got := rc.LLMs["vertex"].ProjectID; got != "plans-prod" {
		t.Errorf("vertex ProjectID = %s, want plans-prod", got)
	}
	if got := rc.Recognizers["mistral"]; got.APIKey != "direct-key" || got.Timeout != 30*time.Second {
		t.Errorf("mistral = %+v, want literal key and 30s timeout", got)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
defaults:
  workers: 8
storage:
  store: memory
llm_providers:
  openai:
    type: openai
    model: gpt-4o
    api_key: "test_value"
    enabled: true
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Defaults.Workers != 8 {
			t.Errorf("Workers = %d, want 8", cfg.Defaults.Workers)
		}
		if cfg.Storage.Store != "memory" {
			t.Errorf("Store = %s, want memory", cfg.Storage.Store)
		}
		if cfg.LLMProviders["openai"].APIKey != "test_value" {
			t.Errorf("expected test_value, got %s", cfg.LLMProviders["openai"].APIKey)
		}
		// Unset keys keep their defaults.
		if cfg.Pipeline.MaxRetries != 3 {
			t.Errorf("MaxRetries = %d, want default 3", cfg.Pipeline.MaxRetries)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %s, want %s", mgr.ConfigFile(), configFile)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("TAKEOFF_SERVER_PORT", "9191")
		t.Setenv("TAKEOFF_PIPELINE_MAX_RETRIES", "5")
		configFile := writeConfig(t, `
server:
  port: "8181"
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Server.Port != "9191" {
			t.Errorf("Port = %s, want 9191", cfg.Server.Port)
		}
		if cfg.Pipeline.MaxRetries != 5 {
			t.Errorf("MaxRetries = %d, want 5", cfg.Pipeline.MaxRetries)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		configFile := writeConfig(t, `
queue:
  driver: redis
`)
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for redis queue without address")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "defaults:\n  workers: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "defaults:\n  workers: 1\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Defaults.Workers
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, `
llm_providers:
  openai:
    type: openai
    api_key: "initial_value"
    enabled: true
`)

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Verify initial value
	cfg := mgr.Get()
	if cfg.LLMProviders["openai"].APIKey != "initial_value" {
		t.Errorf("initial value mismatch: expected initial_value, got %s", cfg.LLMProviders["openai"].APIKey)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.LLMProviders["openai"].APIKey)
	})

	// Start watching
	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	// Update the config file
	newContent := `
llm_providers:
  openai:
    type: openai
    api_key: "updated_value"
    enabled: true
`
	if err := os.WriteFile(configFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lastValue.Load() == "updated_value" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	// Verify the config was updated
	newCfg := mgr.Get()
	if newCfg.LLMProviders["openai"].APIKey != "updated_value" {
		t.Errorf("config not updated: expected updated_value, got %s", newCfg.LLMProviders["openai"].APIKey)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "# takeoff configuration") {
		t.Error("expected header comment")
	}

	// The written file loads back to the defaults.
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	cfg := mgr.Get()
	want := DefaultConfig()
	if cfg.Pipeline != want.Pipeline || cfg.Storage != want.Storage || cfg.Server != want.Server {
		t.Errorf("round trip changed scalar sections: %+v", cfg)
	}
	if cfg.LLMProviders["openrouter"] != want.LLMProviders["openrouter"] {
		t.Errorf("openrouter = %+v, want %+v", cfg.LLMProviders["openrouter"], want.LLMProviders["openrouter"])
	}
}
