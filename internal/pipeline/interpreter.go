package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/profiles"
	"github.com/jackzampolin/takeoff/internal/providers"
)

// Interpreter asks the interpretation service for a structured takeoff of
// the extracted content.
type Interpreter struct {
	LLM providers.LLMClient

	Model       string
	Temperature float64
	MaxTokens   int

	// Timeout bounds each interpretation call (default 3m).
	Timeout time.Duration

	// MalformedRetries is how many times a malformed payload is sent back
	// with a repair prompt before the stage fails (default 0).
	MalformedRetries int

	Logger *slog.Logger
}

var _ Stage = (*Interpreter)(nil)

func (i *Interpreter) Name() string           { return document.StageInterpret }
func (i *Interpreter) Dependencies() []string { return []string{document.StageExtract} }
func (i *Interpreter) Description() string {
	return "Interpret extracted content into measurements, materials and features"
}

// Run interprets the extraction.
func (i *Interpreter) Run(ctx context.Context, state *RunState) error {
	if state.Extraction == nil || state.Index == nil {
		return newError(KindInternal, i.Name(), fmt.Errorf("missing extraction artifact"))
	}
	in, err := i.Interpret(ctx, state.Extraction, state.Index, state.filename())
	if err != nil {
		return err
	}
	state.Interpretation = in
	return nil
}

// Interpret renders the profile prompt, calls the interpretation service
// and validates the payload against the interpretation schema.
func (i *Interpreter) Interpret(ctx context.Context, ext *Extraction, idx *IndexArtifact, filename string) (*Interpretation, error) {
	if i.LLM == nil {
		return nil, newError(KindInternal, i.Name(), fmt.Errorf("no interpretation client configured"))
	}
	profile := idx.Profile
	if profile == nil {
		profile = profiles.Builtin().Generic()
	}

	prompt, err := profile.Render(profiles.PromptData{
		Filename:  filename,
		Pages:     ext.OriginalPages(),
		PageCount: idx.PageCount,
		Content:   ext.Text,
	})
	if err != nil {
		return nil, newError(KindInternal, i.Name(), err)
	}

	schema := InterpretationSchema()
	messages := []providers.Message{
		{Role: "system", Content: profile.SystemPrompt},
		{Role: "user", Content: prompt},
	}
	logger := i.logger().With("profile", profile.Name, "prompt_version", profile.PromptVersion())

	var costUSD float64
	var lastErr error
	for attempt := 0; attempt <= i.MalformedRetries; attempt++ {
		res, err := i.LLM.Chat(ctx, &providers.ChatRequest{
			Messages:       messages,
			Model:          i.Model,
			Temperature:    i.Temperature,
			MaxTokens:      i.MaxTokens,
			Timeout:        i.timeout(),
			ResponseFormat: &providers.ResponseFormat{Type: "json_schema", JSONSchema: schema},
		})
		if err != nil {
			return nil, classify(i.Name(), fmt.Errorf("interpretation call: %w", err))
		}
		costUSD += res.CostUSD

		payload, raw, err := decodePayload(PayloadSchema(), res)
		if err == nil {
			return &Interpretation{
				Payload:       *payload,
				Raw:           raw,
				Provider:      res.Provider,
				Model:         res.ModelUsed,
				PromptVersion: profile.PromptVersion(),
				CostUSD:       costUSD,
				Attempts:      attempt + 1,
				Profile:       profile,
				Index:         idx,
				Extraction:    ext,
			}, nil
		}

		lastErr = err
		logger.Warn("malformed interpretation response", "attempt", attempt+1, "error", err)
		messages = append(messages,
			providers.Message{Role: "assistant", Content: res.Content},
			providers.Message{Role: "user", Content: providers.StructuredRepairPrompt(schema, res.Content, err)},
		)
	}
	return nil, newError(KindMalformed, i.Name(), fmt.Errorf("%w: %v", ErrMalformedResponse, lastErr))
}

func decodePayload(schema json.RawMessage, res *providers.ChatResult) (*Payload, json.RawMessage, error) {
	parsed := res.ParsedJSON
	if len(parsed) == 0 {
		var err error
		if parsed, err = providers.ParseStructuredJSON(res.Content); err != nil {
			return nil, nil, err
		}
	}
	if err := providers.ValidateStructuredJSON(schema, parsed); err != nil {
		return nil, nil, err
	}
	var p Payload
	if err := json.Unmarshal(parsed, &p); err != nil {
		return nil, nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &p, parsed, nil
}

func (i *Interpreter) timeout() time.Duration {
	if i.Timeout > 0 {
		return i.Timeout
	}
	return 3 * time.Minute
}

func (i *Interpreter) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}
