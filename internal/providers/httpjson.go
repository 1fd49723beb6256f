package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// jsonAPI is a bearer-token JSON-over-HTTP endpoint. One post is one
// attempt; failures come back wrapped in a provider error kind.
type jsonAPI struct {
	provider string
	baseURL  string
	apiKey   string
	headers  map[string]string
	client   *http.Client

	// message extracts a readable error from a non-200 body. The raw body
	// is used when it is nil or returns "".
	message func(body []byte) string
}

func newJSONAPI(provider, baseURL, apiKey string, timeout time.Duration) *jsonAPI {
	return &jsonAPI{
		provider: provider,
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// post sends in as JSON to path and decodes a 200 response into out.
func (a *jsonAPI) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return transportError(a.provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(a.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if a.message != nil {
			msg = a.message(data)
		}
		if msg == "" {
			msg = string(data)
		}
		return statusError(a.provider, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to unmarshal response: %v: %w", a.provider, err, ErrUnavailable)
	}
	return nil
}
