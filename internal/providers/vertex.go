package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	VertexName         = "vertex"
	vertexDefaultModel = "gemini-2.5-flash"
)

// VertexConfig holds configuration for the Vertex AI Gemini client.
type VertexConfig struct {
	ProjectID    string
	Location     string
	DefaultModel string
}

// VertexClient implements LLMClient using Gemini on Vertex AI with
// application default credentials.
type VertexClient struct {
	projectID    string
	location     string
	defaultModel string
	client       *genai.Client
}

// NewVertexClient connects to Vertex AI.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = vertexDefaultModel
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexClient{
		projectID:    cfg.ProjectID,
		location:     cfg.Location,
		defaultModel: cfg.DefaultModel,
		client:       client,
	}, nil
}

// Name returns the client identifier.
func (c *VertexClient) Name() string {
	return VertexName
}

// Chat sends the system messages as the system instruction and the rest as
// user content.
func (c *VertexClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
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
	modelName := req.Model
	if modelName == "" {
		modelName = c.defaultModel
	}

	model := c.client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}

	var system []string
	var parts []genai.Part
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		parts = append(parts, genai.Text(m.Content))
	}
	if req.ResponseFormat != nil {
		model.GenerationConfig.ResponseMIMEType = "application/json"
		if len(req.ResponseFormat.JSONSchema) > 0 {
			system = append(system, "Respond only with JSON that conforms to this JSON schema:\n"+string(req.ResponseFormat.JSONSchema))
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no user content: %w", ErrInvalidInput)
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, mapVertexError(err)
	}

	content := vertexText(resp)
	if content == "" {
		return nil, fmt.Errorf("empty response from gemini (model=%s): %w", modelName, ErrEmptyResponse)
	}

	result := &ChatResult{
		Content:       content,
		ExecutionTime: time.Since(start),
		Provider:      VertexName,
		ModelUsed:     modelName,
		RequestID:     requestID,
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if req.ResponseFormat != nil {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

// Close releases the Vertex client.
func (c *VertexClient) Close() error {
	return c.client.Close()
}

func vertexText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func mapVertexError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusError("Vertex AI", gerr.Code, gerr.Message)
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		switch s.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("Vertex AI error: %s: %w", s.Message(), ErrRateLimited)
		case codes.Unavailable, codes.Internal, codes.Aborted:
			return fmt.Errorf("Vertex AI error: %s: %w", s.Message(), ErrUnavailable)
		case codes.DeadlineExceeded:
			return fmt.Errorf("Vertex AI error: %s: %w", s.Message(), ErrTimeout)
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.PermissionDenied, codes.NotFound:
			return fmt.Errorf("Vertex AI error: %s: %w", s.Message(), ErrInvalidInput)
		}
	}
	return transportError("Vertex AI", err)
}

var _ LLMClient = (*VertexClient)(nil)
