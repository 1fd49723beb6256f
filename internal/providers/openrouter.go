package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OpenRouterClient implements LLMClient using the OpenRouter API. Each
// Chat call is a single attempt; retries belong to the caller.
type OpenRouterClient struct {
	api          *jsonAPI
	defaultModel string
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "google/gemini-2.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	api := newJSONAPI("OpenRouter", cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	api.headers = map[string]string{
		"HTTP-Referer": "https://github.com/jackzampolin/takeoff",
		"X-Title":      "Takeoff",
	}
	return &OpenRouterClient{api: api, defaultModel: cfg.DefaultModel}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Usage:       &usageOptions{Include: true},
	}
	for _, m := range req.Messages {
		orReq.Messages = append(orReq.Messages, openRouterMessage{Role: m.Role, Content: m.Content})
	}

	rf, err := openRouterFormat(model, req.ResponseFormat)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	orReq.ResponseFormat = rf

	var orResp openRouterResponse
	if err := c.api.post(ctx, "/chat/completions", &orReq, &orResp); err != nil {
		return nil, err
	}
	if err := responseError(&orResp); err != nil {
		return nil, err
	}

	content, err := orResp.Choices[0].text()
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Content:          content,
		PromptTokens:     orResp.Usage.PromptTokens,
		CompletionTokens: orResp.Usage.CompletionTokens,
		TotalTokens:      orResp.Usage.TotalTokens,
		CostUSD:          orResp.Usage.costUSD(),
		ExecutionTime:    time.Since(start),
		Provider:         OpenRouterName,
		ModelUsed:        orResp.Model,
		RequestID:        requestID,
	}

	// Parsing failures are left to the caller, which owns schema validation.
	if req.ResponseFormat != nil && content != "" {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}

	return result, nil
}

// responseError classifies a 200 OK response that carries an error or no
// choices.
func responseError(resp *openRouterResponse) error {
	if resp.Error != nil {
		switch resp.Error.code() {
		case "rate_limit_exceeded", "429":
			return fmt.Errorf("OpenRouter API error: %s: %w", resp.Error.Message, ErrRateLimited)
		case "overloaded", "503", "502", "500":
			return fmt.Errorf("OpenRouter API error: %s: %w", resp.Error.Message, ErrUnavailable)
		}
		return fmt.Errorf("OpenRouter API error: %s: %w", resp.Error.Message, ErrInvalidInput)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty choices in response (model=%s, id=%s): %w", resp.Model, resp.ID, ErrEmptyResponse)
	}
	return nil
}

var _ LLMClient = (*OpenRouterClient)(nil)
