// Package rates provides the unit cost table used to price a takeoff.
package rates

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Units a rate may be quoted in. They match the normalized units of
// measurements and materials.
const (
	UnitSquareFeet = "sqft"
	UnitFeet       = "ft"
	UnitEach       = "ea"
)

// Rate is the unit cost of one material or labor item.
type Rate struct {
	Key         string  `yaml:"key" json:"key"`
	Description string  `yaml:"description" json:"description"`
	Unit        string  `yaml:"unit" json:"unit"`
	UnitCost    float64 `yaml:"unit_cost" json:"unit_cost"`
	Currency    string  `yaml:"currency" json:"currency"`
}

// Table looks up rates by key. Unknown keys are not an error; callers flag
// the line for manual input.
type Table interface {
	Lookup(key string) (Rate, bool)
}

// StaticTable is an immutable in-memory Table.
type StaticTable struct {
	currency string
	rates    map[string]Rate
}

var _ Table = (*StaticTable)(nil)

// NewStaticTable builds a table. Rates without a currency inherit the table
// currency.
func NewStaticTable(currency string, rates ...Rate) (*StaticTable, error) {
	if currency == "" {
		currency = "USD"
	}
	t := &StaticTable{currency: currency, rates: make(map[string]Rate, len(rates))}
	for _, r := range rates {
		if r.Key == "" {
			return nil, errors.New("rate key is required")
		}
		if _, dup := t.rates[r.Key]; dup {
			return nil, fmt.Errorf("duplicate rate %q", r.Key)
		}
		switch r.Unit {
		case UnitSquareFeet, UnitFeet, UnitEach:
		default:
			return nil, fmt.Errorf("rate %q: unsupported unit %q", r.Key, r.Unit)
		}
		if r.UnitCost < 0 {
			return nil, fmt.Errorf("rate %q: negative unit cost", r.Key)
		}
		if r.Currency == "" {
			r.Currency = currency
		}
		t.rates[r.Key] = r
	}
	return t, nil
}

// Lookup returns the rate for key.
func (t *StaticTable) Lookup(key string) (Rate, bool) {
	r, ok := t.rates[key]
	return r, ok
}

// Currency returns the table's default currency.
func (t *StaticTable) Currency() string { return t.currency }

// Keys returns all rate keys, sorted.
func (t *StaticTable) Keys() []string {
	keys := make([]string, 0, len(t.rates))
	for k := range t.rates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type tableFile struct {
	Currency string `yaml:"currency"`
	Rates    []Rate `yaml:"rates"`
}

// Load reads a table from YAML:
//
//	currency: USD
//	rates:
//	  - key: shingles.asphalt
//	    unit: sqft
//	    unit_cost: 1.25
func Load(r io.Reader) (*StaticTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f tableFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rate table: %w", err)
	}
	return NewStaticTable(f.Currency, f.Rates...)
}

// LoadFile reads a table from a YAML file.
func LoadFile(path string) (*StaticTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate table: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Default returns placeholder rates for development. Real deployments load
// their own table.
func Default() *StaticTable {
	t, err := NewStaticTable("USD",
		Rate{Key: "shingles.asphalt", Description: "Architectural asphalt shingles", Unit: UnitSquareFeet, UnitCost: 1.35},
		Rate{Key: "shingles.metal", Description: "Standing seam metal panels", Unit: UnitSquareFeet, UnitCost: 6.50},
		Rate{Key: "membrane.tpo", Description: "TPO membrane, 60 mil", Unit: UnitSquareFeet, UnitCost: 2.10},
		Rate{Key: "underlayment.synthetic", Description: "Synthetic underlayment", Unit: UnitSquareFeet, UnitCost: 0.22},
		Rate{Key: "ice_and_water_shield", Description: "Ice and water barrier", Unit: UnitSquareFeet, UnitCost: 0.95},
		Rate{Key: "flashing.step", Description: "Step flashing", Unit: UnitFeet, UnitCost: 3.10},
		Rate{Key: "drip_edge", Description: "Aluminum drip edge", Unit: UnitFeet, UnitCost: 1.15},
		Rate{Key: "ridge_cap", Description: "Ridge cap shingles", Unit: UnitFeet, UnitCost: 2.75},
		Rate{Key: "gutter", Description: "Seamless aluminum gutter", Unit: UnitFeet, UnitCost: 8.00},
		Rate{Key: "skylight", Description: "Fixed skylight", Unit: UnitEach, UnitCost: 650},
		Rate{Key: "vent.ridge", Description: "Ridge vent", Unit: UnitFeet, UnitCost: 4.25},
		Rate{Key: "labor.roofing", Description: "Roofing labor", Unit: UnitSquareFeet, UnitCost: 2.40},
		Rate{Key: "labor.ridge", Description: "Ridge and hip labor", Unit: UnitFeet, UnitCost: 1.80},
	)
	if err != nil {
		panic(fmt.Sprintf("default rates: %v", err))
	}
	return t
}
