// Package areas holds the fixed table of supported neighborhoods and their
// provider location codes.
package areas

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/hotel-price-guardian/pkg/model"
)

//go:embed areas.yaml
var defaultTable []byte

// Area describes one supported neighborhood.
type Area struct {
	Key          string  `yaml:"key" json:"key"`
	Name         string  `yaml:"name" json:"name"`
	LocationCode string  `yaml:"location_code" json:"location_code"`
	Latitude     float64 `yaml:"latitude" json:"latitude"`
	Longitude    float64 `yaml:"longitude" json:"longitude"`
	BasePrice    float64 `yaml:"base_price" json:"base_price"`
}

// Base returns the fallback nightly base price.
func (a Area) Base() decimal.Decimal {
	return decimal.NewFromFloat(a.BasePrice)
}

// File is the on-disk layout of an area table.
type File struct {
	City     string `yaml:"city"`
	Currency string `yaml:"currency"`
	Areas    []Area `yaml:"areas"`
}

// Table is an immutable lookup of supported areas, safe for concurrent use.
type Table struct {
	city     string
	currency string
	byKey    map[string]Area
	keys     []string
}

// Default returns the embedded London table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded area table: %v", err))
	}
	return t
}

// Load reads an area table from a YAML file. An empty path yields the default table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read area file %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("area file %s: %w", path, err)
	}
	return t, nil
}

// Parse builds a table from raw YAML.
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse area table: %w", err)
	}
	if len(f.Areas) == 0 {
		return nil, fmt.Errorf("no areas defined")
	}
	if f.Currency == "" {
		f.Currency = "GBP"
	}

	t := &Table{
		city:     f.City,
		currency: f.Currency,
		byKey:    make(map[string]Area, len(f.Areas)),
	}
	for _, a := range f.Areas {
		key := normalize(a.Key)
		switch {
		case key == "":
			return nil, fmt.Errorf("area with empty key")
		case a.LocationCode == "":
			return nil, fmt.Errorf("area %q: missing location_code", key)
		case a.BasePrice <= 0:
			return nil, fmt.Errorf("area %q: base_price must be positive", key)
		}
		if _, exists := t.byKey[key]; exists {
			return nil, fmt.Errorf("area %q defined twice", key)
		}
		a.Key = key
		if a.Name == "" {
			a.Name = a.Key
		}
		t.byKey[key] = a
		t.keys = append(t.keys, key)
	}
	sort.Strings(t.keys)
	return t, nil
}

// Lookup resolves a user-supplied area name. Matching ignores case, surrounding
// whitespace and accepts the display name as well as the key.
func (t *Table) Lookup(name string) (Area, error) {
	n := normalize(name)
	if a, ok := t.byKey[n]; ok {
		return a, nil
	}
	for _, a := range t.byKey {
		if normalize(a.Name) == n {
			return a, nil
		}
	}
	return Area{}, fmt.Errorf("%w: unsupported area %q (supported: %s)",
		model.ErrValidation, strings.TrimSpace(name), strings.Join(t.keys, ", "))
}

// Keys returns the canonical area keys in sorted order.
func (t *Table) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// All returns every area sorted by key.
func (t *Table) All() []Area {
	out := make([]Area, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.byKey[k])
	}
	return out
}

// Currency is the currency prices are quoted in.
func (t *Table) Currency() string { return t.currency }

// City is the city every area belongs to.
func (t *Table) City() string { return t.city }

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
