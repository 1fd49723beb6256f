package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// Mistral OCR pricing averages ~$0.0012 per page.
	MistralOCRCostPerPage = 0.0012

	// Mistral does not report a recognition confidence; pages with text get
	// this value and empty pages get 0.
	mistralDefaultConfidence = 0.9
)

// MistralOCRConfig holds configuration for the Mistral OCR client.
type MistralOCRConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Confidence float64 // Confidence assigned to non-empty pages (default: 0.9)
}

// MistralOCRClient implements Recognizer and BatchRecognizer using the
// Mistral OCR API with inline PDF documents.
type MistralOCRClient struct {
	api        *jsonAPI
	model      string
	confidence float64
}

// NewMistralOCRClient creates a new Mistral OCR client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralOCRBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralOCRModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = mistralDefaultConfidence
	}

	api := newJSONAPI("Mistral OCR", cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	api.message = func(body []byte) string {
		var e mistralErrorResponse
		if json.Unmarshal(body, &e) != nil {
			return ""
		}
		return e.Error.Message
	}
	return &MistralOCRClient{api: api, model: cfg.Model, confidence: cfg.Confidence}
}

// Name returns the provider identifier.
func (c *MistralOCRClient) Name() string {
	return MistralOCRName
}

// Recognize extracts a single page.
func (c *MistralOCRClient) Recognize(ctx context.Context, page PageInput) (*Recognition, error) {
	recs, err := c.RecognizeDocument(ctx, page.Document, []int{page.Page})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// RecognizeDocument sends the PDF once and returns one Recognition per
// requested page.
func (c *MistralOCRClient) RecognizeDocument(ctx context.Context, pdf []byte, pages []int) ([]*Recognition, error) {
	if len(pdf) == 0 {
		return nil, fmt.Errorf("empty document: %w", ErrInvalidInput)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages requested: %w", ErrInvalidInput)
	}
	start := time.Now()

	// Mistral page indexes are 0-based.
	indexes := make([]int, len(pages))
	for i, p := range pages {
		indexes[i] = p - 1
	}

	reqBody := mistralOCRRequest{
		Model: c.model,
		Document: mistralDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
		Pages: indexes,
	}

	var resp mistralOCRResponse
	if err := c.api.post(ctx, "/ocr", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Pages) == 0 {
		return nil, fmt.Errorf("no pages in OCR response: %w", ErrEmptyResponse)
	}

	byIndex := make(map[int]mistralOCRPage, len(resp.Pages))
	for _, p := range resp.Pages {
		byIndex[p.Index] = p
	}

	elapsed := time.Since(start)
	out := make([]*Recognition, len(pages))
	for i, idx := range indexes {
		p, ok := byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("page %d missing from OCR response: %w", pages[i], ErrEmptyResponse)
		}
		out[i] = c.toRecognition(p, elapsed/time.Duration(len(pages)))
	}
	return out, nil
}

func (c *MistralOCRClient) toRecognition(p mistralOCRPage, elapsed time.Duration) *Recognition {
	rec := &Recognition{
		Text:          p.Markdown,
		Width:         p.Dimensions.Width,
		Height:        p.Dimensions.Height,
		Provider:      MistralOCRName,
		CostUSD:       MistralOCRCostPerPage,
		ExecutionTime: elapsed,
	}
	if p.Markdown != "" {
		rec.Confidence = c.confidence
		rec.Regions = append(rec.Regions, Region{
			Kind:       "text",
			BBox:       BBox{X1: float64(p.Dimensions.Width), Y1: float64(p.Dimensions.Height)},
			Confidence: c.confidence,
		})
	}
	for _, img := range p.Images {
		rec.Regions = append(rec.Regions, Region{
			Kind: "image",
			Text: img.ImageAnnotation,
			BBox: BBox{
				X0: float64(img.TopLeftX),
				Y0: float64(img.TopLeftY),
				X1: float64(img.BottomRightX),
				Y1: float64(img.BottomRightY),
			},
			Confidence: c.confidence,
		})
	}
	return rec
}

// Mistral OCR API types

type mistralOCRRequest struct {
	Model              string          `json:"model"`
	Document           mistralDocument `json:"document"`
	IncludeImageBase64 bool            `json:"include_image_base64,omitempty"`
	Pages              []int           `json:"pages,omitempty"`
}

type mistralDocument struct {
	Type        string `json:"type"` // "document_url" or "image_url"
	DocumentURL string `json:"document_url,omitempty"`
}

type mistralOCRResponse struct {
	Model     string            `json:"model"`
	Pages     []mistralOCRPage  `json:"pages"`
	UsageInfo *mistralUsageInfo `json:"usage_info,omitempty"`
}

type mistralOCRPage struct {
	Index      int                   `json:"index"`
	Markdown   string                `json:"markdown"`
	Images     []mistralOCRImage     `json:"images,omitempty"`
	Dimensions mistralPageDimensions `json:"dimensions"`
}

type mistralOCRImage struct {
	ID              string `json:"id"`
	TopLeftX        int    `json:"top_left_x"`
	TopLeftY        int    `json:"top_left_y"`
	BottomRightX    int    `json:"bottom_right_x"`
	BottomRightY    int    `json:"bottom_right_y"`
	ImageAnnotation string `json:"image_annotation,omitempty"`
}

type mistralPageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	DPI    int `json:"dpi"`
}

type mistralUsageInfo struct {
	PagesProcessed int `json:"pages_processed"`
	DocSizeBytes   int `json:"doc_size_bytes,omitempty"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

var _ BatchRecognizer = (*MistralOCRClient)(nil)
