package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/rates"
)

// Confidence caps applied to problem fields.
const (
	flaggedConfidence     = 0.2
	unconfirmedConfidence = 0.5
	textScanConfidence    = 0.85
)

// Validator normalizes and checks the interpretation and prices it. Soft
// problems are recorded per field; validation never fails a run.
type Validator struct {
	Rates  rates.Table
	Logger *slog.Logger
}

var _ Stage = (*Validator)(nil)

func (v *Validator) Name() string           { return document.StageValidate }
func (v *Validator) Dependencies() []string { return []string{document.StageInterpret} }
func (v *Validator) Description() string {
	return "Normalize units, check ranges and citations, and compute costs"
}

// Run validates the interpretation into the final result.
func (v *Validator) Run(ctx context.Context, state *RunState) error {
	if state.Interpretation == nil {
		return newError(KindInternal, v.Name(), fmt.Errorf("missing interpretation artifact"))
	}
	res := v.Validate(state.Interpretation)
	if state.Document != nil {
		res.DocumentID = state.Document.ID
	}
	state.Result = res
	return nil
}

// Validate builds the result. Every measurement either cites an extracted
// original page or is marked unconfirmed.
func (v *Validator) Validate(in *Interpretation) *document.Result {
	ext := in.Extraction
	if ext == nil {
		ext = &Extraction{}
	}
	hits := scanAreas(ext)

	res := &document.Result{
		Measurements: make([]document.Measurement, 0, len(in.Payload.Measurements)),
		Materials:    make([]document.Material, 0, len(in.Payload.Materials)),
		Features:     make([]document.Feature, 0, len(in.Payload.Features)),
	}

	hasArea := false
	for _, pm := range in.Payload.Measurements {
		m := v.measurement(pm, ext, hits)
		if m.Kind == KindArea {
			hasArea = true
		}
		res.Measurements = append(res.Measurements, m)
	}
	if !hasArea {
		res.Measurements = append(res.Measurements, scannedMeasurements(hits, ext)...)
	}

	for _, pm := range in.Payload.Materials {
		res.Materials = append(res.Materials, v.material(pm, ext))
	}
	for _, pf := range in.Payload.Features {
		res.Features = append(res.Features, v.feature(pf, ext))
	}

	if in.Index != nil {
		res.PageSelection = pageSelection(in.Index)
	}
	res.Costs = v.costs(res, in)
	res.Confidence = document.AggregateConfidence(res.FieldConfidences())
	res.Metadata = metadata(in)

	v.logger().Debug("validated interpretation",
		"measurements", len(res.Measurements),
		"materials", len(res.Materials),
		"features", len(res.Features),
		"confidence", res.Confidence,
		"needs_review", res.NeedsReview())
	return res
}

func (v *Validator) measurement(pm PayloadMeasurement, ext *Extraction, hits []scanHit) document.Measurement {
	m := document.Measurement{
		Name:     strings.TrimSpace(pm.Name),
		Kind:     strings.ToLower(strings.TrimSpace(pm.Kind)),
		RawValue: formatValue(pm.Value),
		RawUnit:  pm.Unit,
		Meta: document.FieldMeta{
			Confidence: document.ClampConfidence(pm.Confidence),
			Provenance: document.ProvenanceInterpretation,
			Status:     document.FieldOK,
		},
	}

	value, unit, known := normalizeQuantity(m.Kind, pm.Value, pm.Unit)
	switch {
	case !known:
		m.Value, m.Unit = pm.Value, pm.Unit
		m.Meta.Flag(document.FieldFlagged, fmt.Sprintf("unknown unit %q for %s", pm.Unit, m.Kind), flaggedConfidence)
	case !inRange(m.Kind, value):
		m.Value, m.Unit = value, unit
		m.Meta.Flag(document.FieldFlagged, fmt.Sprintf("%s %v %s is out of range", m.Kind, value, unit), flaggedConfidence)
	default:
		m.Value, m.Unit = value, unit
	}

	m.SourcePage = citedPage(pm.SourcePage, ext, &m.Meta)

	if known && m.Meta.Status == document.FieldOK && m.Kind == KindArea {
		if hit, ok := matchHit(hits, m.Value); ok {
			m.Meta.Provenance = document.ProvenanceCorroborated
			m.Meta.Confidence = max(m.Meta.Confidence, scanConfidence(ext, hit.Page))
			if m.SourcePage == nil {
				m.SourcePage = intPtr(hit.Page)
			}
		}
	}

	if m.SourcePage == nil {
		m.Unconfirmed = true
		m.Meta.Flag(document.FieldUnconfirmed, "no source page on an analyzed sheet", unconfirmedConfidence)
	}
	return m
}

// citedPage returns the cited page when it is one of the extracted original
// pages. A citation of any other page is recorded as an issue.
func citedPage(page *int, ext *Extraction, meta *document.FieldMeta) *int {
	if page == nil {
		return nil
	}
	pc, ok := ext.Page(*page)
	if !ok {
		meta.Issues = append(meta.Issues, fmt.Sprintf("cited page %d was not analyzed", *page))
		return nil
	}
	if pc.Confidence < meta.Confidence {
		meta.Confidence = pc.Confidence
	}
	return intPtr(pc.Page)
}

// scannedMeasurements turns text scan hits into measurements when the
// interpretation reported no area. The largest distinct value is taken as
// the roof area.
func scannedMeasurements(hits []scanHit, ext *Extraction) []document.Measurement {
	var distinct []scanHit
	for _, h := range hits {
		if _, dup := matchHit(distinct, h.Value); !dup {
			distinct = append(distinct, h)
		}
	}
	if len(distinct) == 0 {
		return nil
	}

	largest := 0
	for i, h := range distinct {
		if h.Value > distinct[largest].Value {
			largest = i
		}
	}
	distinct[0], distinct[largest] = distinct[largest], distinct[0]

	out := make([]document.Measurement, len(distinct))
	for i, h := range distinct {
		name := "roof_area"
		if i > 0 {
			name = fmt.Sprintf("area_%d", i+1)
		}
		out[i] = document.Measurement{
			Name:       name,
			Kind:       KindArea,
			Value:      h.Value,
			Unit:       rates.UnitSquareFeet,
			RawValue:   h.Raw,
			SourcePage: intPtr(h.Page),
			Meta: document.FieldMeta{
				Confidence: scanConfidence(ext, h.Page),
				Provenance: document.ProvenanceTextScan,
				Status:     document.FieldOK,
			},
		}
	}
	return out
}

func scanConfidence(ext *Extraction, page int) float64 {
	if pc, ok := ext.Page(page); ok {
		return min(textScanConfidence, pc.Confidence)
	}
	return textScanConfidence
}

func (v *Validator) material(pm PayloadMaterial, ext *Extraction) document.Material {
	m := document.Material{
		Key:  strings.ToLower(strings.TrimSpace(pm.Key)),
		Name: strings.TrimSpace(pm.Name),
		Meta: document.FieldMeta{
			Confidence: document.ClampConfidence(pm.Confidence),
			Provenance: document.ProvenanceInterpretation,
			Status:     document.FieldOK,
		},
	}

	rawUnit := ""
	if pm.Unit != nil {
		rawUnit = *pm.Unit
	}
	if pm.Quantity != nil {
		m.Quantity, m.Unit = *pm.Quantity, rawUnit
		if kind, ok := inferKind(rawUnit); ok {
			q, unit, _ := normalizeQuantity(kind, *pm.Quantity, rawUnit)
			m.Quantity, m.Unit = q, unit
			if !inRange(kind, q) {
				m.Meta.Flag(document.FieldFlagged, fmt.Sprintf("quantity %v %s is out of range", q, unit), flaggedConfidence)
			}
		} else {
			m.Meta.Flag(document.FieldFlagged, fmt.Sprintf("unknown unit %q", rawUnit), flaggedConfidence)
		}
	}

	m.SourcePage = citedPage(pm.SourcePage, ext, &m.Meta)
	if m.SourcePage == nil {
		m.Meta.Flag(document.FieldUnconfirmed, "no source page on an analyzed sheet", unconfirmedConfidence)
	}
	return m
}

func (v *Validator) feature(pf PayloadFeature, ext *Extraction) document.Feature {
	f := document.Feature{
		Name:  strings.TrimSpace(pf.Name),
		Count: pf.Count,
		Meta: document.FieldMeta{
			Confidence: document.ClampConfidence(pf.Confidence),
			Provenance: document.ProvenanceInterpretation,
			Status:     document.FieldOK,
		},
	}
	if !inRange(KindCount, float64(pf.Count)) {
		f.Meta.Flag(document.FieldFlagged, fmt.Sprintf("count %d is out of range", pf.Count), flaggedConfidence)
	}
	f.SourcePage = citedPage(pf.SourcePage, ext, &f.Meta)
	if f.SourcePage == nil {
		f.Meta.Flag(document.FieldUnconfirmed, "no source page on an analyzed sheet", unconfirmedConfidence)
	}
	return f
}

func pageSelection(idx *IndexArtifact) document.PageSelection {
	ps := document.PageSelection{
		Pages:  append([]int(nil), idx.Pages...),
		Source: idx.Source,
		Meta: document.FieldMeta{
			Confidence: document.ClampConfidence(idx.Confidence),
			Provenance: idx.Source,
			Status:     document.FieldOK,
		},
	}
	if idx.LowConfidence {
		ps.Meta.Flag(document.FieldFlagged, "no outline, contents or sheet title matched; all pages analyzed", idx.Confidence)
	}
	return ps
}

// costs prices materials and the measurements the profile maps to labor
// rates. Lines that cannot be priced are marked for manual input and left
// out of the subtotal.
func (v *Validator) costs(res *document.Result, in *Interpretation) document.CostBreakdown {
	cb := document.CostBreakdown{Lines: []document.CostLine{}, Currency: "USD"}
	currencySet := false
	price := func(line document.CostLine, rate rates.Rate) document.CostLine {
		line.UnitCost = rate.UnitCost
		line.Total = round2(line.Quantity * rate.UnitCost)
		cb.Subtotal = round2(cb.Subtotal + line.Total)
		if !currencySet && rate.Currency != "" {
			cb.Currency = rate.Currency
			currencySet = true
		}
		return line
	}
	manual := func(line document.CostLine, reason string) document.CostLine {
		line.ManualInputRequired = true
		line.Reason = reason
		return line
	}

	for i := range res.Materials {
		m := &res.Materials[i]
		line := document.CostLine{Key: m.Key, Description: m.Name, Quantity: m.Quantity, Unit: m.Unit}
		rate, ok := v.lookup(m.Key)
		switch {
		case !ok:
			line = manual(line, fmt.Sprintf("no rate for %q", m.Key))
		case m.Unit == "":
			line = manual(line, "quantity not stated")
		case m.Meta.Status == document.FieldFlagged:
			line = manual(line, "quantity flagged during validation")
		case m.Unit != rate.Unit:
			line = manual(line, fmt.Sprintf("unit %s does not match rate unit %s", m.Unit, rate.Unit))
		default:
			line = price(line, rate)
		}
		if line.ManualInputRequired {
			m.Meta.Flag(document.FieldManualInputRequired, line.Reason, 1)
		}
		cb.Lines = append(cb.Lines, line)
	}

	if in.Profile == nil {
		return cb
	}
	// Labor rates assume a walkable pitch; a rejected pitch holds every
	// labor line for manual pricing.
	pitchFlagged := false
	for _, m := range res.Measurements {
		if m.Kind == KindPitch && m.Meta.Status == document.FieldFlagged {
			pitchFlagged = true
		}
	}
	for _, m := range res.Measurements {
		key, ok := in.Profile.LaborKeys[m.Name]
		if !ok {
			continue
		}
		line := document.CostLine{Key: key, Description: m.Name, Quantity: m.Value, Unit: m.Unit}
		rate, ok := v.lookup(key)
		switch {
		case !ok:
			line = manual(line, fmt.Sprintf("no rate for %q", key))
		case m.Meta.Status == document.FieldFlagged:
			line = manual(line, "measurement flagged during validation")
		case pitchFlagged:
			line = manual(line, "roof pitch flagged during validation")
		case m.Unit != rate.Unit:
			line = manual(line, fmt.Sprintf("unit %s does not match rate unit %s", m.Unit, rate.Unit))
		default:
			if rate.Description != "" {
				line.Description = rate.Description
			}
			line = price(line, rate)
		}
		cb.Lines = append(cb.Lines, line)
	}
	return cb
}

func (v *Validator) lookup(key string) (rates.Rate, bool) {
	if v.Rates == nil || key == "" {
		return rates.Rate{}, false
	}
	return v.Rates.Lookup(key)
}

func metadata(in *Interpretation) map[string]any {
	md := map[string]any{
		"prompt_version": in.PromptVersion,
		"interpreter":    in.Provider,
		"model":          in.Model,
		"interpret_cost": round4(in.CostUSD),
	}
	if in.Profile != nil {
		md["profile"] = in.Profile.Name
	}
	if in.Index != nil {
		md["original_page_count"] = in.Index.PageCount
		md["selected_pages"] = append([]int(nil), in.Index.Pages...)
		md["page_selection_source"] = in.Index.Source
	}
	if in.Extraction != nil {
		md["recognizer"] = in.Extraction.Provider
		md["extraction_confidence"] = in.Extraction.Confidence
		md["recognize_cost"] = round4(in.Extraction.CostUSD)
	}
	if in.Payload.Notes != nil && *in.Payload.Notes != "" {
		md["notes"] = *in.Payload.Notes
	}
	return md
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

func intPtr(v int) *int { return &v }

func formatValue(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
