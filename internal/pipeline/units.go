package pipeline

import (
	"math"
	"strings"

	"github.com/jackzampolin/takeoff/internal/rates"
)

// Measurement kinds.
const (
	KindArea   = "area"
	KindLength = "length"
	KindCount  = "count"
	KindPitch  = "pitch"
)

// UnitPitch is the normalized roof pitch unit: inches of rise per 12 of run.
const UnitPitch = "in/12"

type conversion struct {
	unit   string
	factor float64
}

type aliasGroup struct {
	unit   string
	factor float64
	names  []string
}

func aliases(groups ...aliasGroup) map[string]conversion {
	out := make(map[string]conversion)
	for _, g := range groups {
		for _, n := range g.names {
			out[n] = conversion{unit: g.unit, factor: g.factor}
		}
	}
	return out
}

// unitAliases maps a cleaned unit spelling to its normalized unit and
// multiplier, per kind.
var unitAliases = map[string]map[string]conversion{
	KindArea: aliases(
		aliasGroup{rates.UnitSquareFeet, 1, []string{"sqft", "sq ft", "sf", "ft2", "ft²", "sq feet", "square feet", "square foot", "sq foot"}},
		aliasGroup{rates.UnitSquareFeet, 10.7639104, []string{"m2", "m²", "sq m", "sqm", "square meters", "square metres"}},
		aliasGroup{rates.UnitSquareFeet, 9, []string{"sq yd", "sqyd", "yd2", "yd²", "square yards"}},
		// Roofing squares of 100 sq ft.
		aliasGroup{rates.UnitSquareFeet, 100, []string{"sq", "squares", "square"}},
	),
	KindLength: aliases(
		aliasGroup{rates.UnitFeet, 1, []string{"ft", "feet", "foot", "'", "lf", "lin ft", "linear feet"}},
		aliasGroup{rates.UnitFeet, 1.0 / 12, []string{"in", "inch", "inches", `"`}},
		aliasGroup{rates.UnitFeet, 3.2808399, []string{"m", "meter", "meters", "metre", "metres"}},
		aliasGroup{rates.UnitFeet, 0.032808399, []string{"cm"}},
		aliasGroup{rates.UnitFeet, 0.0032808399, []string{"mm"}},
		aliasGroup{rates.UnitFeet, 3, []string{"yd", "yards"}},
	),
	KindCount: aliases(
		aliasGroup{rates.UnitEach, 1, []string{"", "ea", "each", "count", "pc", "pcs", "unit", "units", "no", "qty"}},
	),
}

// cleanUnit lowercases, drops periods and collapses whitespace.
func cleanUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.ReplaceAll(u, ".", "")
	return strings.Join(strings.Fields(u), " ")
}

// normalizeQuantity converts value in unit to the normalized unit of kind.
// It reports false for units it does not know.
func normalizeQuantity(kind string, value float64, unit string) (float64, string, bool) {
	u := cleanUnit(unit)
	if kind == KindPitch {
		return normalizePitch(value, u)
	}
	conv, ok := unitAliases[kind][u]
	if !ok {
		return 0, "", false
	}
	return round2(value * conv.factor), conv.unit, true
}

func normalizePitch(value float64, u string) (float64, string, bool) {
	switch u {
	case "", "in/12", "/12", "12", "in:12", ":12", "in per ft", "in/ft", "on 12":
		return round2(value), UnitPitch, true
	case "deg", "degree", "degrees", "°":
		return round2(12 * math.Tan(value*math.Pi/180)), UnitPitch, true
	case "%", "percent":
		return round2(value * 12 / 100), UnitPitch, true
	}
	return 0, "", false
}

// inferKind guesses the kind of a material quantity from its unit.
func inferKind(unit string) (string, bool) {
	u := cleanUnit(unit)
	for _, kind := range []string{KindArea, KindLength, KindCount} {
		if _, ok := unitAliases[kind][u]; ok {
			return kind, true
		}
	}
	return "", false
}

// quantityRange is the plausible range of a normalized value per kind.
var quantityRange = map[string]struct{ min, max float64 }{
	KindArea:   {0, 10_000_000},
	KindLength: {0, 100_000},
	KindCount:  {0, 100_000},
	KindPitch:  {0, 24},
}

// inRange reports whether a normalized value is plausible. Areas and
// lengths must be strictly positive.
func inRange(kind string, v float64) bool {
	r, ok := quantityRange[kind]
	if !ok || math.IsNaN(v) {
		return false
	}
	switch kind {
	case KindArea, KindLength:
		return v > r.min && v <= r.max
	}
	return v >= r.min && v <= r.max
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
