package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MockClientName     = "mock"
	MockRecognizerName = "mock-ocr"
)

// MockClient is an LLMClient for testing. Calls consume Errors and
// Responses in order; once exhausted, ResponseText is returned.
type MockClient struct {
	Latency      time.Duration
	ResponseText string
	Responses    []string
	Errors       []error // nil entries succeed

	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat returns the next scripted error or response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	n := int(c.requestCount.Add(1)) - 1

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, transportError(MockClientName, ctx.Err())
		}
	}

	if n < len(c.Errors) && c.Errors[n] != nil {
		return nil, c.Errors[n]
	}

	content := c.ResponseText
	if n < len(c.Responses) {
		content = c.Responses[n]
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	result := &ChatResult{
		Content:          content,
		PromptTokens:     promptTokens,
		CompletionTokens: len(content) / 4,
		TotalTokens:      promptTokens + len(content)/4,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        req.Model,
		RequestID:        fmt.Sprintf("mock-%d", n+1),
	}
	if req.ResponseFormat != nil {
		var parsed json.RawMessage
		if json.Unmarshal([]byte(content), &parsed) == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// RequestCount returns the number of Chat calls.
func (c *MockClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Requests returns the requests received so far.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// MockRecognizer is a Recognizer for testing. Text is looked up by the
// original page number.
type MockRecognizer struct {
	Texts      map[int]string
	Confidence float64
	Errors     []error // consumed in call order, nil entries succeed

	calls atomic.Int64

	mu    sync.Mutex
	pages []PageInput
}

// NewMockRecognizer returns a recognizer serving texts.
func NewMockRecognizer(texts map[int]string) *MockRecognizer {
	return &MockRecognizer{Texts: texts, Confidence: 0.9}
}

// Name returns the provider identifier.
func (r *MockRecognizer) Name() string { return MockRecognizerName }

// Recognize returns the scripted text for page.OriginalPage, or for
// page.Page when no original page is set.
func (r *MockRecognizer) Recognize(ctx context.Context, page PageInput) (*Recognition, error) {
	n := int(r.calls.Add(1)) - 1

	r.mu.Lock()
	r.pages = append(r.pages, PageInput{Page: page.Page, OriginalPage: page.OriginalPage})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, transportError(MockRecognizerName, err)
	}
	if n < len(r.Errors) && r.Errors[n] != nil {
		return nil, r.Errors[n]
	}

	key := page.OriginalPage
	if key == 0 {
		key = page.Page
	}
	text := r.Texts[key]
	rec := &Recognition{Text: text, Provider: MockRecognizerName}
	if text != "" {
		rec.Confidence = r.Confidence
		rec.Regions = []Region{{Kind: "text", Text: text, Confidence: r.Confidence}}
	}
	return rec, nil
}

// Calls returns the number of Recognize calls.
func (r *MockRecognizer) Calls() int { return int(r.calls.Load()) }

// Pages returns the pages requested so far, without document bytes.
func (r *MockRecognizer) Pages() []PageInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PageInput(nil), r.pages...)
}

var (
	_ LLMClient  = (*MockClient)(nil)
	_ Recognizer = (*MockRecognizer)(nil)
)
