package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// areaPattern finds area quantities such as "2,500 sq ft" or "232 m²".
var areaPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)\s*(square\s+feet|square\s+foot|sq\.?\s*ft\.?|sq\.?\s*feet|s\.f\.|sf|ft2|ft²|square\s+met(?:er|re)s|sq\.?\s*m|m2|m²|squares)(?:[^a-z0-9]|$)`)

// scanHit is an area quantity found in page text.
type scanHit struct {
	Page  int
	Value float64 // square feet
	Raw   string
}

// scanAreas returns the area quantities in the extraction, in page order.
func scanAreas(ext *Extraction) []scanHit {
	var hits []scanHit
	for _, p := range ext.Pages {
		for _, m := range areaPattern.FindAllStringSubmatch(p.Text, -1) {
			num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			value, _, ok := normalizeQuantity(KindArea, num, m[2])
			if !ok || !inRange(KindArea, value) {
				continue
			}
			hits = append(hits, scanHit{Page: p.Page, Value: value, Raw: strings.TrimSpace(m[1] + " " + m[2])})
		}
	}
	return hits
}

// matchHit returns the first hit equal to value within half a percent.
func matchHit(hits []scanHit, value float64) (scanHit, bool) {
	tolerance := max(0.5, value*0.005)
	for _, h := range hits {
		if d := h.Value - value; d <= tolerance && d >= -tolerance {
			return h, true
		}
	}
	return scanHit{}, false
}
