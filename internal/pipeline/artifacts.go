package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/profiles"
	"github.com/jackzampolin/takeoff/internal/providers"
)

// Page selection sources, in resolution order.
const (
	SourceOutline   = "outline"
	SourceTOC       = "toc"
	SourcePageTitle = "page-title"
	SourceFallback  = "fallback"
)

// IndexArtifact is the output of the IndexPageAnalyzer.
type IndexArtifact struct {
	// Pages are 1-based original page numbers, ascending and unique.
	Pages         []int
	PageCount     int
	Source        string
	Confidence    float64
	LowConfidence bool
	Profile       *profiles.Profile

	// Titles maps a selected page to the hint it matched.
	Titles map[int]string
}

// ReducedDocument is a PDF holding only the relevant pages.
type ReducedDocument struct {
	Data []byte

	// OriginalPages[i] is the original page number of local page i+1.
	OriginalPages     []int
	OriginalPageCount int
}

// OriginalPage maps a 1-based local page to its original page number.
func (r *ReducedDocument) OriginalPage(local int) (int, error) {
	if local < 1 || local > len(r.OriginalPages) {
		return 0, fmt.Errorf("local page %d of %d", local, len(r.OriginalPages))
	}
	return r.OriginalPages[local-1], nil
}

// PageContent is the recognized content of one page.
type PageContent struct {
	Page       int // original page number
	LocalPage  int
	Text       string
	Regions    []providers.Region
	Confidence float64
	Provider   string
}

// Extraction is the merged output of the ContentExtractor.
type Extraction struct {
	Pages []PageContent

	// Text is the page-marked content: each page is introduced by
	// "=== Page N ===" using its original number.
	Text       string
	Confidence float64
	Provider   string
	CostUSD    float64
}

// Page returns the content of an original page number.
func (e *Extraction) Page(original int) (*PageContent, bool) {
	for i := range e.Pages {
		if e.Pages[i].Page == original {
			return &e.Pages[i], true
		}
	}
	return nil, false
}

// OriginalPages lists the original page numbers that were extracted.
func (e *Extraction) OriginalPages() []int {
	out := make([]int, len(e.Pages))
	for i, p := range e.Pages {
		out[i] = p.Page
	}
	return out
}

// PayloadMeasurement is one measurement as returned by the interpreter.
type PayloadMeasurement struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	SourcePage *int    `json:"source_page"`
	Confidence float64 `json:"confidence"`
}

// PayloadMaterial is one material as returned by the interpreter.
type PayloadMaterial struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Quantity   *float64 `json:"quantity"`
	Unit       *string  `json:"unit"`
	SourcePage *int     `json:"source_page"`
	Confidence float64  `json:"confidence"`
}

// PayloadFeature is one roof feature as returned by the interpreter.
type PayloadFeature struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	SourcePage *int    `json:"source_page"`
	Confidence float64 `json:"confidence"`
}

// Payload is the structured interpretation response.
type Payload struct {
	Measurements []PayloadMeasurement `json:"measurements"`
	Materials    []PayloadMaterial    `json:"materials"`
	Features     []PayloadFeature     `json:"features"`
	Notes        *string              `json:"notes"`
}

// Interpretation is the output of the Interpreter. It carries the artifacts
// the validator needs to check citations.
type Interpretation struct {
	Payload       Payload
	Raw           json.RawMessage
	Provider      string
	Model         string
	PromptVersion string
	CostUSD       float64
	Attempts      int

	Profile    *profiles.Profile
	Index      *IndexArtifact
	Extraction *Extraction
}
