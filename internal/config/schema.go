package config

import (
	"fmt"
	"time"
)

// Config holds takeoff configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Recognizers  map[string]RecognizerCfg  `mapstructure:"recognizers" yaml:"recognizers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Storage      StorageCfg                `mapstructure:"storage" yaml:"storage"`
	Queue        QueueCfg                  `mapstructure:"queue" yaml:"queue"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
}

// RecognizerCfg configures a page recognition provider.
type RecognizerCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`         // "mistral-ocr", "text-layer"
	Model          string  `mapstructure:"model" yaml:"model"`       // Model name (mistral)
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"` // Optional endpoint override
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures an interpretation provider.
type LLMProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"` // "openrouter", "openai", "vertex"
	Model          string  `mapstructure:"model" yaml:"model"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	ProjectID      string  `mapstructure:"project_id" yaml:"project_id"` // vertex only
	Location       string  `mapstructure:"location" yaml:"location"`     // vertex only
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	Recognizer  string `mapstructure:"recognizer" yaml:"recognizer"`     // Preferred recognizer, text-layer when unavailable
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"` // Default interpretation provider
	Workers     int    `mapstructure:"workers" yaml:"workers"`           // Concurrent document runs
}

// PipelineCfg tunes the stage runner.
type PipelineCfg struct {
	MaxRetries              int     `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelaySeconds        float64 `mapstructure:"base_delay_seconds" yaml:"base_delay_seconds"`
	MaxDelaySeconds         float64 `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"`
	BackoffFactor           float64 `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	RecognizeTimeoutSeconds int     `mapstructure:"recognize_timeout_seconds" yaml:"recognize_timeout_seconds"`
	InterpretTimeoutSeconds int     `mapstructure:"interpret_timeout_seconds" yaml:"interpret_timeout_seconds"`
	RunTimeoutMinutes       int     `mapstructure:"run_timeout_minutes" yaml:"run_timeout_minutes"`
	MalformedRetries        int     `mapstructure:"malformed_retries" yaml:"malformed_retries"`
	Temperature             float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens               int     `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Optional YAML files replacing the built-in profiles and rate table.
	ProfilesFile string `mapstructure:"profiles_file" yaml:"profiles_file"`
	RatesFile    string `mapstructure:"rates_file" yaml:"rates_file"`
}

// StorageCfg selects the status store and the blob store.
type StorageCfg struct {
	Store  string `mapstructure:"store" yaml:"store"` // "sqlite", "postgres", "memory"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`     // sqlite path (default {home}/takeoff.db) or postgres URL
	Blob   string `mapstructure:"blob" yaml:"blob"`   // "local", "gcs"
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// QueueCfg selects the task queue.
type QueueCfg struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // "memory", "redis"
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Recognizers: map[string]RecognizerCfg{
			"mistral": {
				Type:           "mistral-ocr",
				Model:          "mistral-ocr-latest",
				APIKey:         "${MISTRAL_API_KEY}",
				RateLimit:      6.0,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"text-layer": {
				Type:    "text-layer",
				Enabled: true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				Model:          "anthropic/claude-sonnet-4",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      2.0,
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"vertex": {
				Type:      "vertex",
				Model:     "gemini-1.5-pro",
				ProjectID: "${GOOGLE_CLOUD_PROJECT}",
				Location:  "us-central1",
				Enabled:   false,
			},
		},
		Defaults: DefaultsCfg{
			Recognizer:  "mistral",
			LLMProvider: "openrouter",
			Workers:     2,
		},
		Pipeline: PipelineCfg{
			MaxRetries:              3,
			BaseDelaySeconds:        2,
			MaxDelaySeconds:         60,
			BackoffFactor:           2,
			RecognizeTimeoutSeconds: 120,
			InterpretTimeoutSeconds: 180,
			RunTimeoutMinutes:       30,
			Temperature:             0,
			MaxTokens:               4096,
		},
		Storage: StorageCfg{
			Store: "sqlite",
			Blob:  "local",
		},
		Queue: QueueCfg{
			Driver: "memory",
			Prefix: "takeoff:",
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			MaxUploadMB: 200,
		},
	}
}

// Validate checks option values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Store {
	case "", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.store: unknown driver %q", c.Storage.Store)
	}
	if c.Storage.Store == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	switch c.Storage.Blob {
	case "", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for gcs")
		}
	default:
		return fmt.Errorf("storage.blob: unknown driver %q", c.Storage.Blob)
	}
	switch c.Queue.Driver {
	case "", "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("queue.driver: unknown driver %q", c.Queue.Driver)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.BackoffFactor != 0 && c.Pipeline.BackoffFactor < 1 {
		return fmt.Errorf("pipeline.backoff_factor must be >= 1")
	}
	return nil
}

// GetRecognizer returns a recognizer config by name.
func (c *Config) GetRecognizer(name string) (RecognizerCfg, bool) {
	cfg, ok := c.Recognizers[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// BaseDelay returns the first retry delay.
func (p PipelineCfg) BaseDelay() time.Duration {
	return seconds(p.BaseDelaySeconds)
}

// MaxDelay returns the retry delay cap.
func (p PipelineCfg) MaxDelay() time.Duration {
	return seconds(p.MaxDelaySeconds)
}

// RecognizeTimeout bounds each recognition call.
func (p PipelineCfg) RecognizeTimeout() time.Duration {
	return time.Duration(p.RecognizeTimeoutSeconds) * time.Second
}

// InterpretTimeout bounds each interpretation call.
func (p PipelineCfg) InterpretTimeout() time.Duration {
	return time.Duration(p.InterpretTimeoutSeconds) * time.Second
}

// RunTimeout bounds how long a worker waits for one run.
func (p PipelineCfg) RunTimeout() time.Duration {
	return time.Duration(p.RunTimeoutMinutes) * time.Minute
}

// Addr returns host:port.
func (s ServerCfg) Addr() string {
	return s.Host + ":" + s.Port
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
