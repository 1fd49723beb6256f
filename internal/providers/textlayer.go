package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/takeoff/internal/pdfdoc"
)

const TextLayerName = "text-layer"

// TextLayerRecognizer reads the embedded PDF text layer. It needs no
// network access and is the default recognizer for born-digital plan sets.
type TextLayerRecognizer struct {
	// Confidence assigned to pages that carry text (default: 0.95).
	Confidence float64
}

// NewTextLayerRecognizer returns a text layer recognizer.
func NewTextLayerRecognizer() *TextLayerRecognizer {
	return &TextLayerRecognizer{Confidence: 0.95}
}

// Name returns the provider identifier.
func (r *TextLayerRecognizer) Name() string { return TextLayerName }

// Recognize reads one page.
func (r *TextLayerRecognizer) Recognize(ctx context.Context, page PageInput) (*Recognition, error) {
	recs, err := r.RecognizeDocument(ctx, page.Document, []int{page.Page})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// RecognizeDocument parses the PDF once and reads each requested page.
func (r *TextLayerRecognizer) RecognizeDocument(ctx context.Context, pdf []byte, pages []int) ([]*Recognition, error) {
	doc, err := pdfdoc.Open(pdf)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}

	conf := r.Confidence
	if conf == 0 {
		conf = 0.95
	}

	out := make([]*Recognition, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, transportError(TextLayerName, err)
		}
		start := time.Now()
		text, err := doc.PageText(p)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
		}

		rec := &Recognition{Text: text, Provider: TextLayerName, ExecutionTime: time.Since(start)}
		if strings.TrimSpace(text) != "" {
			rec.Confidence = conf
			rec.Regions = []Region{{Kind: "text", Text: text, Confidence: conf}}
		}
		out[i] = rec
	}
	return out, nil
}

var _ BatchRecognizer = (*TextLayerRecognizer)(nil)
