package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interpretation service contract: a chat completion that
// can be asked for JSON-schema structured output.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// Recognizer is the recognition service contract. It turns one page of a
// PDF into text and regions.
type Recognizer interface {
	// Name returns the provider identifier (e.g., "mistral-ocr").
	Name() string

	// Recognize extracts text from a single page.
	Recognize(ctx context.Context, page PageInput) (*Recognition, error)
}

// BatchRecognizer is implemented by recognizers that can process several
// pages of one document in a single call.
type BatchRecognizer interface {
	Recognizer

	// RecognizeDocument extracts the given 1-based pages of pdf. The result
	// holds one Recognition per requested page, in request order.
	RecognizeDocument(ctx context.Context, pdf []byte, pages []int) ([]*Recognition, error)
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // set when ResponseFormat was requested and content parsed

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
}

// PageInput addresses one page of a (reduced) PDF.
type PageInput struct {
	// Document is the PDF the page belongs to.
	Document []byte
	// Page is the 1-based page number within Document.
	Page int
	// OriginalPage is the page number in the uploaded document, for logs
	// and provenance only.
	OriginalPage int
}

// BBox is a region bounding box in page pixels.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Region is a recognized area of a page.
type Region struct {
	Kind       string  `json:"kind"` // "text", "image", "table"
	Text       string  `json:"text,omitempty"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Recognition is the recognizer output for one page.
type Recognition struct {
	Text       string   `json:"text"`
	Regions    []Region `json:"regions,omitempty"`
	Confidence float64  `json:"confidence"`
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`

	Provider      string        `json:"provider"`
	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`
}
