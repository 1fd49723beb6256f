package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured recognizers and LLM clients. It supports
// config-driven instantiation and hot-reload, with thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	llmClients  map[string]llmEntry
	recognizers map[string]recognizerEntry
	logger      *slog.Logger
}

type llmEntry struct {
	client LLMClient
	cfg    LLMConfig
}

type recognizerEntry struct {
	recognizer Recognizer
	cfg        RecognizerConfig
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients:  make(map[string]llmEntry),
		recognizers: make(map[string]recognizerEntry),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = llmEntry{client: client}
	r.logger.Info("registered LLM client", "name", name)
}

// RegisterRecognizer registers a recognizer by name.
func (r *Registry) RegisterRecognizer(name string, rec Recognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = recognizerEntry{recognizer: rec}
	r.logger.Info("registered recognizer", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return e.client, nil
}

// GetRecognizer returns a recognizer by name.
func (r *Registry) GetRecognizer(name string) (Recognizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.recognizers[name]
	if !ok {
		return nil, fmt.Errorf("recognizer not found: %s", name)
	}
	return e.recognizer, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRecognizers returns all registered recognizer names, sorted.
func (r *Registry) ListRecognizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recognizers))
	for name := range r.recognizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Recognizers map[string]RecognizerConfig
	LLMs        map[string]LLMConfig
}

// RecognizerConfig configures one recognizer with a resolved API key.
type RecognizerConfig struct {
	Type      string  // "mistral-ocr", "text-layer"
	Model     string  // Model name (mistral)
	APIKey    string  // Resolved API key
	BaseURL   string  // Optional override
	RateLimit float64 // Requests per second (0 = unlimited)
	Timeout   time.Duration
	Enabled   bool
}

// LLMConfig configures one interpretation client with a resolved API key.
type LLMConfig struct {
	Type      string // "openrouter", "openai", "vertex"
	Model     string
	APIKey    string
	BaseURL   string
	ProjectID string // vertex
	Location  string // vertex
	RateLimit float64
	Timeout   time.Duration
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with the credentials their type needs are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration. Providers that
// are no longer configured are unregistered; providers with changed
// settings are recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantLLM := make(map[string]bool)
	for name, c := range cfg.LLMs {
		if !c.usable() {
			continue
		}
		wantLLM[name] = true

		existing, ok := r.llmClients[name]
		if ok && existing.cfg == c {
			continue
		}
		client, err := createLLMClient(c)
		if err != nil {
			r.logger.Warn("failed to create LLM client", "name", name, "type", c.Type, "error", err)
			delete(wantLLM, name)
			continue
		}
		r.llmClients[name] = llmEntry{client: client, cfg: c}
		if ok {
			r.logger.Info("updated LLM client", "name", name, "type", c.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", c.Type)
		}
	}

	wantRec := make(map[string]bool)
	for name, c := range cfg.Recognizers {
		if !c.usable() {
			continue
		}
		wantRec[name] = true

		existing, ok := r.recognizers[name]
		if ok && existing.cfg == c {
			continue
		}
		rec, err := createRecognizer(c)
		if err != nil {
			r.logger.Warn("failed to create recognizer", "name", name, "type", c.Type, "error", err)
			delete(wantRec, name)
			continue
		}
		r.recognizers[name] = recognizerEntry{recognizer: rec, cfg: c}
		if ok {
			r.logger.Info("updated recognizer", "name", name, "type", c.Type)
		} else {
			r.logger.Info("registered recognizer", "name", name, "type", c.Type)
		}
	}

	for name, e := range r.llmClients {
		// Clients registered directly carry no config and survive reloads.
		if e.cfg.Type != "" && !wantLLM[name] {
			delete(r.llmClients, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
	for name, e := range r.recognizers {
		if e.cfg.Type != "" && !wantRec[name] {
			delete(r.recognizers, name)
			r.logger.Info("unregistered recognizer", "name", name)
		}
	}
}

func (c LLMConfig) usable() bool {
	if !c.Enabled {
		return false
	}
	if c.Type == "vertex" {
		return c.ProjectID != ""
	}
	return c.APIKey != ""
}

func (c RecognizerConfig) usable() bool {
	if !c.Enabled {
		return false
	}
	if c.Type == "text-layer" {
		return true
	}
	return c.APIKey != ""
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMConfig) (LLMClient, error) {
	var client LLMClient
	switch cfg.Type {
	case "openrouter":
		client = NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		})
	case "openai":
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		})
	case "vertex":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		vc, err := NewVertexClient(ctx, VertexConfig{
			ProjectID:    cfg.ProjectID,
			Location:     cfg.Location,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		client = vc
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
	if cfg.RateLimit > 0 {
		client = NewLimitedLLM(client, cfg.RateLimit)
	}
	return client, nil
}

// createRecognizer creates a recognizer based on provider type.
func createRecognizer(cfg RecognizerConfig) (Recognizer, error) {
	var rec Recognizer
	switch cfg.Type {
	case "mistral-ocr":
		rec = NewMistralOCRClient(MistralOCRConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case "text-layer":
		rec = NewTextLayerRecognizer()
	default:
		return nil, fmt.Errorf("unknown recognizer type: %s", cfg.Type)
	}
	if cfg.RateLimit > 0 {
		rec = NewLimitedRecognizer(rec, cfg.RateLimit)
	}
	return rec, nil
}
