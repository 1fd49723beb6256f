package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openAICompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4.1-mini",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 5,
			"total_tokens":      17,
		},
	}
}

func TestOpenAIClient_Chat(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization: %s", auth)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAICompletion(`{"roof_area": 2500}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "extract"},
			{Role: "user", Content: "ROOF PLAN"},
		},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: json.RawMessage(`{"name":"interpretation","strict":true,"schema":{"type":"object"}}`),
		},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if result.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", result.TotalTokens)
	}
	if string(result.ParsedJSON) != `{"roof_area":2500}` {
		t.Errorf("ParsedJSON = %s", result.ParsedJSON)
	}
	if result.Provider != OpenAIName {
		t.Errorf("Provider = %s, want %s", result.Provider, OpenAIName)
	}

	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format = %v, want json_schema", body["response_format"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("len(messages) = %d, want 2", len(msgs))
	}
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}))
			defer server.Close()

			client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
			_, err := client.Chat(context.Background(), &ChatRequest{
				Messages: []Message{{Role: "user", Content: "x"}},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Chat() error = %v, want %v", err, tt.want)
			}
			if calls != 1 {
				t.Errorf("server calls = %d, want 1", calls)
			}
		})
	}
}

func TestOpenAIResponseFormat(t *testing.T) {
	t.Run("wrapper", func(t *testing.T) {
		rf, err := openAIResponseFormat(json.RawMessage(`{"name":"x","strict":true,"schema":{"type":"object"}}`))
		if err != nil {
			t.Fatalf("openAIResponseFormat() error = %v", err)
		}
		if rf.OfJSONSchema == nil || rf.OfJSONSchema.JSONSchema.Name != "x" {
			t.Errorf("unexpected format: %+v", rf)
		}
	})

	t.Run("bare schema gets a name", func(t *testing.T) {
		rf, err := openAIResponseFormat(json.RawMessage(`{"type":"object"}`))
		if err != nil {
			t.Fatalf("openAIResponseFormat() error = %v", err)
		}
		if rf.OfJSONSchema.JSONSchema.Name != "response" {
			t.Errorf("Name = %q, want response", rf.OfJSONSchema.JSONSchema.Name)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := openAIResponseFormat(json.RawMessage(`[`)); err == nil {
			t.Error("expected error for invalid schema")
		}
	})
}
