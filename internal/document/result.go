package document

import "math"

// Field statuses recorded in FieldMeta.
const (
	FieldOK                  = "ok"
	FieldFlagged             = "flagged"
	FieldUnconfirmed         = "unconfirmed"
	FieldManualInputRequired = "manual_input_required"
)

// Provenance values recorded in FieldMeta.
const (
	ProvenanceInterpretation = "interpretation"
	ProvenanceTextScan       = "text-scan"
	ProvenanceCorroborated   = "interpretation+text"
)

// FieldMeta carries per-field reliability. Soft validation problems are
// recorded here instead of failing the run.
type FieldMeta struct {
	Confidence float64  `json:"confidence"`
	Provenance string   `json:"provenance"`
	Status     string   `json:"status"`
	Issues     []string `json:"issues,omitempty"`
}

// Flag marks the field with an issue and caps its confidence.
func (m *FieldMeta) Flag(status, issue string, maxConfidence float64) {
	if m.Status == "" || m.Status == FieldOK {
		m.Status = status
	}
	m.Issues = append(m.Issues, issue)
	if m.Confidence > maxConfidence {
		m.Confidence = maxConfidence
	}
}

// Measurement is a numeric quantity read from the drawings.
type Measurement struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	RawValue    string    `json:"raw_value,omitempty"`
	RawUnit     string    `json:"raw_unit,omitempty"`
	SourcePage  *int      `json:"source_page,omitempty"`
	Unconfirmed bool      `json:"unconfirmed,omitempty"`
	Meta        FieldMeta `json:"meta"`
}

// Material is a detected material with an optional quantity.
type Material struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Quantity   float64   `json:"quantity"`
	Unit       string    `json:"unit"`
	SourcePage *int      `json:"source_page,omitempty"`
	Meta       FieldMeta `json:"meta"`
}

// Feature is a detected roof feature such as a skylight or valley.
type Feature struct {
	Name       string    `json:"name"`
	Count      int       `json:"count"`
	SourcePage *int      `json:"source_page,omitempty"`
	Meta       FieldMeta `json:"meta"`
}

// CostLine is one priced line of the preliminary estimate.
type CostLine struct {
	Key                 string  `json:"key"`
	Description         string  `json:"description"`
	Quantity            float64 `json:"quantity"`
	Unit                string  `json:"unit"`
	UnitCost            float64 `json:"unit_cost"`
	Total               float64 `json:"total"`
	ManualInputRequired bool    `json:"manual_input_required,omitempty"`
	Reason              string  `json:"reason,omitempty"`
}

// CostBreakdown is the preliminary estimate.
type CostBreakdown struct {
	Lines    []CostLine `json:"lines"`
	Subtotal float64    `json:"subtotal"`
	Currency string     `json:"currency"`
}

// PageSelection records which pages were analyzed and how they were chosen.
type PageSelection struct {
	Pages  []int     `json:"pages"`
	Source string    `json:"source"`
	Meta   FieldMeta `json:"meta"`
}

// Result is the structured output of a successful run.
type Result struct {
	DocumentID    string         `json:"document_id"`
	Measurements  []Measurement  `json:"measurements"`
	Materials     []Material     `json:"materials"`
	Features      []Feature      `json:"features"`
	Costs         CostBreakdown  `json:"costs"`
	PageSelection PageSelection  `json:"page_selection"`
	Confidence    float64        `json:"confidence"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FieldConfidences returns every per-field confidence that feeds the
// aggregate score.
func (r *Result) FieldConfidences() []float64 {
	out := make([]float64, 0, len(r.Measurements)+len(r.Materials)+len(r.Features)+1)
	for _, m := range r.Measurements {
		out = append(out, m.Meta.Confidence)
	}
	for _, m := range r.Materials {
		out = append(out, m.Meta.Confidence)
	}
	for _, f := range r.Features {
		out = append(out, f.Meta.Confidence)
	}
	if len(r.PageSelection.Pages) > 0 {
		out = append(out, r.PageSelection.Meta.Confidence)
	}
	return out
}

// AggregateConfidence is the minimum of the per-field confidences, clamped
// to [0,1]. A result with no fields scores 0.
func AggregateConfidence(fields []float64) float64 {
	if len(fields) == 0 {
		return 0
	}
	agg := math.Inf(1)
	for _, c := range fields {
		agg = math.Min(agg, c)
	}
	return ClampConfidence(agg)
}

// ClampConfidence bounds c to [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// NeedsReview reports whether any field requires a human look.
func (r *Result) NeedsReview() bool {
	for _, m := range r.Measurements {
		if m.Meta.Status != FieldOK {
			return true
		}
	}
	for _, m := range r.Materials {
		if m.Meta.Status != FieldOK {
			return true
		}
	}
	for _, f := range r.Features {
		if f.Meta.Status != FieldOK {
			return true
		}
	}
	if ps := r.PageSelection; len(ps.Pages) > 0 && ps.Meta.Status != "" && ps.Meta.Status != FieldOK {
		return true
	}
	for _, l := range r.Costs.Lines {
		if l.ManualInputRequired {
			return true
		}
	}
	return false
}
