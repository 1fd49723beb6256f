package providers

import (
	"encoding/json"
	"fmt"
)

// Wire types for the OpenRouter chat completions API.

type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []openRouterMessage       `json:"messages"`
	Temperature    float64                   `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
	Usage          *usageOptions             `json:"usage,omitempty"`
}

// usageOptions asks OpenRouter to report token counts and cost.
type usageOptions struct {
	Include bool `json:"include"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openRouterResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openRouterChoice struct {
	Message      openRouterMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// text flattens the message content. Some models return structured content
// parts instead of a string.
func (c openRouterChoice) text() (string, error) {
	switch v := c.Message.Content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal content: %w", err)
		}
		return string(b), nil
	}
}

type openRouterUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
	NativeTotalCost  float64 `json:"native_total_cost,omitempty"`
}

// costUSD prefers the billed cost and falls back to the native estimate.
func (u openRouterUsage) costUSD() float64 {
	if u.Cost != 0 {
		return u.Cost
	}
	return u.NativeTotalCost
}

type openRouterResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []openRouterChoice `json:"choices"`
	Usage   openRouterUsage    `json:"usage"`
	Error   *openRouterError   `json:"error,omitempty"`
}

// openRouterError is reported inside a 200 response when the upstream model
// fails. Code is a string or a number depending on the upstream.
type openRouterError struct {
	Message  string         `json:"message"`
	Code     any            `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e *openRouterError) code() string {
	switch v := e.Code.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}
