package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/providers"
)

// ContentExtractor recognizes the text and layout of the reduced document.
type ContentExtractor struct {
	Recognizer providers.Recognizer

	// Timeout bounds each recognizer call (default 2m).
	Timeout time.Duration

	Logger *slog.Logger
}

var _ Stage = (*ContentExtractor)(nil)

func (e *ContentExtractor) Name() string           { return document.StageExtract }
func (e *ContentExtractor) Dependencies() []string { return []string{document.StageSelect} }
func (e *ContentExtractor) Description() string {
	return "Recognize text, regions and confidence for each selected page"
}

// Run extracts the reduced document.
func (e *ContentExtractor) Run(ctx context.Context, state *RunState) error {
	if state.Reduced == nil {
		return newError(KindInternal, e.Name(), fmt.Errorf("missing reduced document"))
	}
	ext, err := e.Extract(ctx, state.Reduced)
	if err != nil {
		return err
	}
	state.Extraction = ext
	return nil
}

// Extract calls the recognizer once per page, or once for the whole
// document when it supports batching.
func (e *ContentExtractor) Extract(ctx context.Context, rd *ReducedDocument) (*Extraction, error) {
	if e.Recognizer == nil {
		return nil, newError(KindInternal, e.Name(), fmt.Errorf("no recognizer configured"))
	}

	var recs []*providers.Recognition
	var err error
	if batch, ok := e.Recognizer.(providers.BatchRecognizer); ok {
		recs, err = e.recognizeBatch(ctx, batch, rd)
	} else {
		recs, err = e.recognizePages(ctx, rd)
	}
	if err != nil {
		return nil, err
	}

	ext := &Extraction{Provider: e.Recognizer.Name(), Pages: make([]PageContent, len(recs))}
	var text strings.Builder
	confidence := 1.0
	withText := 0
	for i, rec := range recs {
		if rec == nil {
			rec = &providers.Recognition{}
		}
		pc := PageContent{
			Page:       rd.OriginalPages[i],
			LocalPage:  i + 1,
			Text:       strings.TrimSpace(rec.Text),
			Regions:    rec.Regions,
			Confidence: document.ClampConfidence(rec.Confidence),
			Provider:   rec.Provider,
		}
		ext.Pages[i] = pc
		ext.CostUSD += rec.CostUSD

		fmt.Fprintf(&text, "=== Page %d ===\n%s\n\n", pc.Page, pc.Text)
		if pc.Text != "" {
			withText++
			confidence = min(confidence, pc.Confidence)
		}
	}
	if withText == 0 {
		return nil, newError(KindInput, e.Name(), ErrNoContent)
	}

	ext.Text = strings.TrimRight(text.String(), "\n")
	ext.Confidence = confidence
	e.logger().Debug("content extracted",
		"pages", len(ext.Pages), "pages_with_text", withText, "confidence", confidence, "provider", ext.Provider)
	return ext, nil
}

func (e *ContentExtractor) recognizeBatch(ctx context.Context, batch providers.BatchRecognizer, rd *ReducedDocument) ([]*providers.Recognition, error) {
	local := make([]int, len(rd.OriginalPages))
	for i := range local {
		local[i] = i + 1
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	recs, err := batch.RecognizeDocument(cctx, rd.Data, local)
	if err != nil {
		return nil, classify(e.Name(), fmt.Errorf("recognize document: %w", err))
	}
	if len(recs) != len(local) {
		return nil, newError(KindInternal, e.Name(),
			fmt.Errorf("recognizer returned %d pages, want %d", len(recs), len(local)))
	}
	return recs, nil
}

func (e *ContentExtractor) recognizePages(ctx context.Context, rd *ReducedDocument) ([]*providers.Recognition, error) {
	recs := make([]*providers.Recognition, len(rd.OriginalPages))
	for i, orig := range rd.OriginalPages {
		rec, err := e.recognizeOne(ctx, providers.PageInput{Document: rd.Data, Page: i + 1, OriginalPage: orig})
		if err != nil {
			return nil, classify(e.Name(), fmt.Errorf("recognize page %d: %w", orig, err))
		}
		recs[i] = rec
	}
	return recs, nil
}

func (e *ContentExtractor) recognizeOne(ctx context.Context, in providers.PageInput) (*providers.Recognition, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	return e.Recognizer.Recognize(cctx, in)
}

func (e *ContentExtractor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 2 * time.Minute
}

func (e *ContentExtractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
