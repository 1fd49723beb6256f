// Package config loads takeoff settings from defaults, a YAML file and
// TAKEOFF_ environment variables, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/takeoff/internal/providers"
)

// EnvPrefix prefixes every environment override, e.g. TAKEOFF_SERVER_PORT.
const EnvPrefix = "TAKEOFF"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config. An
// empty cfgFile searches ./config.yaml, then ~/.takeoff/config.yaml.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload messages.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()
	v.SetDefault("recognizers", d.Recognizers)
	v.SetDefault("llm_providers", d.LLMProviders)

	// Scalar sections are registered per key so env overrides reach them.
	for key, val := range map[string]any{
		"defaults.recognizer":                d.Defaults.Recognizer,
		"defaults.llm_provider":              d.Defaults.LLMProvider,
		"defaults.workers":                   d.Defaults.Workers,
		"pipeline.max_retries":               d.Pipeline.MaxRetries,
		"pipeline.base_delay_seconds":        d.Pipeline.BaseDelaySeconds,
		"pipeline.max_delay_seconds":         d.Pipeline.MaxDelaySeconds,
		"pipeline.backoff_factor":            d.Pipeline.BackoffFactor,
		"pipeline.recognize_timeout_seconds": d.Pipeline.RecognizeTimeoutSeconds,
		"pipeline.interpret_timeout_seconds": d.Pipeline.InterpretTimeoutSeconds,
		"pipeline.run_timeout_minutes":       d.Pipeline.RunTimeoutMinutes,
		"pipeline.malformed_retries":         d.Pipeline.MalformedRetries,
		"pipeline.temperature":               d.Pipeline.Temperature,
		"pipeline.max_tokens":                d.Pipeline.MaxTokens,
		"pipeline.profiles_file":             d.Pipeline.ProfilesFile,
		"pipeline.rates_file":                d.Pipeline.RatesFile,
		"storage.store":                      d.Storage.Store,
		"storage.dsn":                        d.Storage.DSN,
		"storage.blob":                       d.Storage.Blob,
		"storage.bucket":                     d.Storage.Bucket,
		"storage.prefix":                     d.Storage.Prefix,
		"queue.driver":                       d.Queue.Driver,
		"queue.redis_addr":                   d.Queue.RedisAddr,
		"queue.redis_password":               d.Queue.RedisPassword,
		"queue.redis_db":                     d.Queue.RedisDB,
		"queue.prefix":                       d.Queue.Prefix,
		"server.host":                        d.Server.Host,
		"server.port":                        d.Server.Port,
		"server.max_upload_mb":               d.Server.MaxUploadMB,
	} {
		v.SetDefault(key, val)
	}

	// Environment variables with TAKEOFF_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.takeoff")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the config was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An edit that fails to
// parse or validate keeps the previous config.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			logger := cm.logger
			cm.mu.RUnlock()
			logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		logger := cm.logger
		cm.mu.Unlock()

		logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys and project ids.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Recognizers: make(map[string]providers.RecognizerConfig),
		LLMs:        make(map[string]providers.LLMConfig),
	}

	for name, rec := range c.Recognizers {
		cfg.Recognizers[name] = providers.RecognizerConfig{
			Type:      rec.Type,
			Model:     rec.Model,
			APIKey:    ResolveEnvVars(rec.APIKey),
			BaseURL:   rec.BaseURL,
			RateLimit: rec.RateLimit,
			Timeout:   time.Duration(rec.TimeoutSeconds) * time.Second,
			Enabled:   rec.Enabled,
		}
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMs[name] = providers.LLMConfig{
			Type:      llm.Type,
			Model:     llm.Model,
			APIKey:    ResolveEnvVars(llm.APIKey),
			BaseURL:   llm.BaseURL,
			ProjectID: ResolveEnvVars(llm.ProjectID),
			Location:  llm.Location,
			RateLimit: llm.RateLimit,
			Timeout:   time.Duration(llm.TimeoutSeconds) * time.Second,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# takeoff configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export MISTRAL_API_KEY=xxx OPENROUTER_API_KEY=xxx
# Any scalar can be overridden with TAKEOFF_<SECTION>_<KEY>, e.g. TAKEOFF_SERVER_PORT=9090

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
