package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func openRouterReply(content string) map[string]any {
	return map[string]any{
		"id":    "test-id",
		"model": "google/gemini-2.5-flash",
		"choices": []map[string]any{
			{
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
			"cost":              0.0004,
		},
	}
}

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != "POST" {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(openRouterReply("The roof area is 2,500 sq ft."))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: "user", Content: "What is the roof area?"},
			},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != "The roof area is 2,500 sq ft." {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 18 {
			t.Errorf("TotalTokens = %d, want 18", result.TotalTokens)
		}
		if result.CostUSD != 0.0004 {
			t.Errorf("CostUSD = %v, want 0.0004", result.CostUSD)
		}
		if result.Provider != OpenRouterName {
			t.Errorf("Provider = %s, want %s", result.Provider, OpenRouterName)
		}
	})

	t.Run("structured output", func(t *testing.T) {
		var got openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(openRouterReply("```json\n{\"area\": 2500}\n```"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:    "openai/gpt-4.1",
			Messages: []Message{{Role: "user", Content: "extract"}},
			ResponseFormat: &ResponseFormat{
				Type:       "json_schema",
				JSONSchema: json.RawMessage(`{"name":"x","schema":{"type":"object"}}`),
			},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_schema" {
			t.Errorf("request response_format = %+v, want json_schema", got.ResponseFormat)
		}
		if string(result.ParsedJSON) != `{"area":2500}` {
			t.Errorf("ParsedJSON = %s, want {\"area\":2500}", result.ParsedJSON)
		}
	})

	t.Run("anthropic models skip native response format", func(t *testing.T) {
		var got openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(openRouterReply(`{}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Model:          "anthropic/claude-sonnet-4",
			Messages:       []Message{{Role: "user", Content: "extract"}},
			ResponseFormat: &ResponseFormat{Type: "json_schema", JSONSchema: json.RawMessage(`{"schema":{}}`)},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if got.ResponseFormat != nil {
			t.Errorf("response_format = %+v, want nil for anthropic", got.ResponseFormat)
		}
	})
}

func TestOpenRouterClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited, true},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrUnavailable, true},
		{"gateway timeout", http.StatusGatewayTimeout, ``, ErrTimeout, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"invalid model"}}`, ErrInvalidInput, false},
		{"empty choices", http.StatusOK, `{"id":"x","choices":[]}`, ErrEmptyResponse, true},
		{"overloaded body", http.StatusOK, `{"error":{"message":"busy","code":"overloaded"}}`, ErrUnavailable, true},
		{"numeric code body", http.StatusOK, `{"error":{"message":"limit","code":429}}`, ErrRateLimited, true},
		{"content filter body", http.StatusOK, `{"error":{"message":"blocked","code":"content_filter"}}`, ErrInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.Chat(context.Background(), &ChatRequest{
				Messages: []Message{{Role: "user", Content: "test"}},
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Chat() error = %v, want %v", err, tt.want)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", IsTransient(err), tt.transient)
			}
		})
	}
}

func TestOpenRouterResponse_Helpers(t *testing.T) {
	var resp openRouterResponse
	body := `{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}],"usage":{"native_total_cost":0.002}}`
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	text, err := resp.Choices[0].text()
	if err != nil {
		t.Fatalf("text() error = %v", err)
	}
	if text != `[{"text":"hi","type":"text"}]` {
		t.Errorf("text() = %s", text)
	}
	if got := resp.Usage.costUSD(); got != 0.002 {
		t.Errorf("costUSD() = %v, want native cost 0.002", got)
	}
	resp.Usage.Cost = 0.001
	if got := resp.Usage.costUSD(); got != 0.001 {
		t.Errorf("costUSD() = %v, want billed cost 0.001", got)
	}
}

func TestOpenRouterClient_SingleAttempt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
	client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if calls != 1 {
		t.Errorf("server calls = %d, want 1", calls)
	}
}

func TestOpenRouterClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(openRouterReply("late"))
	}))
	defer server.Close()

	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "test"}},
		Timeout:  20 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Chat() error = %v, want ErrTimeout", err)
	}
}

func TestOpenRouterClient_Config(t *testing.T) {
	client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k"})
	if client.api.baseURL != OpenRouterBaseURL {
		t.Errorf("baseURL = %s, want %s", client.api.baseURL, OpenRouterBaseURL)
	}
	if client.defaultModel == "" {
		t.Error("expected a default model")
	}
	if client.Name() != OpenRouterName {
		t.Errorf("Name() = %s, want %s", client.Name(), OpenRouterName)
	}
}

func TestOpenRouterIntegration(t *testing.T) {
	cfg := LoadTestConfig()
	if !cfg.HasOpenRouter() {
		t.Skip("OPENROUTER_API_KEY not set - skipping integration test")
	}
	client := NewOpenRouterClient(OpenRouterConfig{APIKey: cfg.OpenRouterAPIKey})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You respond only with valid JSON."},
			{Role: "user", Content: `Return exactly this JSON: {"roof_area": 2500}`},
		},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		MaxTokens:      50,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(result.ParsedJSON) == 0 {
		t.Errorf("expected parsed JSON, got %q", result.Content)
	}
	t.Logf("Response: %s (%s, %d tokens)", result.Content, result.ModelUsed, result.TotalTokens)
}
