package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables
// for live integration tests.
type TestConfig struct {
	OpenRouterAPIKey string
	MistralAPIKey    string
	OpenAIAPIKey     string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		MistralAPIKey:    os.Getenv("MISTRAL_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}
}

// HasOpenRouter returns true if an OpenRouter API key is configured.
func (c TestConfig) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// HasMistral returns true if a Mistral API key is configured.
func (c TestConfig) HasMistral() bool {
	return c.MistralAPIKey != ""
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig. The text layer
// recognizer is always included.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		Recognizers: map[string]RecognizerConfig{
			"text-layer": {Type: "text-layer", Enabled: true},
		},
		LLMs: make(map[string]LLMConfig),
	}
	if c.HasOpenRouter() {
		cfg.LLMs["openrouter"] = LLMConfig{Type: "openrouter", APIKey: c.OpenRouterAPIKey, RateLimit: 2, Enabled: true}
	}
	if c.HasOpenAI() {
		cfg.LLMs["openai"] = LLMConfig{Type: "openai", APIKey: c.OpenAIAPIKey, RateLimit: 2, Enabled: true}
	}
	if c.HasMistral() {
		cfg.Recognizers["mistral"] = RecognizerConfig{Type: "mistral-ocr", APIKey: c.MistralAPIKey, RateLimit: 6, Enabled: true}
	}
	return cfg
}
