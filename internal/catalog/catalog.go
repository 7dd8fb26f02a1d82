// Package catalog serves the scrap-type reference data shown next to
// classification results.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v2"

	"github.com/welldanyogia/steel-scrap-yard/internal/api"
)

//go:embed scrap_types.yaml
var builtin []byte

// ErrEmptyCatalog is returned when a catalog file lists no scrap types
var ErrEmptyCatalog = errors.New("catalog has no scrap types")

// ScrapType describes one grade of scrap
type ScrapType struct {
	Name            string   `yaml:"name" json:"name"`
	Price           float64  `yaml:"price" json:"price"`
	RawMaterials    []string `yaml:"raw_materials" json:"rawMaterials"`
	ProcessingSteps []string `yaml:"processing_steps" json:"processingSteps"`
	EnergyRequired  string   `yaml:"energy_required" json:"energyRequired"`
	CarbonFootprint string   `yaml:"carbon_footprint" json:"carbonFootprint"`
	Description     string   `yaml:"description" json:"description"`
}

// Catalog is an immutable list of scrap types
type Catalog struct {
	types []ScrapType
}

type document struct {
	ScrapTypes []ScrapType `yaml:"scrap_types"`
}

// Default returns the built-in catalog
func Default() (*Catalog, error) {
	return Parse(builtin)
}

// Load reads a catalog file, falling back to the built-in catalog when
// path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.ScrapTypes) == 0 {
		return nil, ErrEmptyCatalog
	}
	for i, t := range doc.ScrapTypes {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("parse catalog: entry %d has no name", i)
		}
	}
	return &Catalog{types: doc.ScrapTypes}, nil
}

// All returns a copy of every scrap type in catalog order
func (c *Catalog) All() []ScrapType {
	out := make([]ScrapType, len(c.types))
	copy(out, c.types)
	return out
}

// Lookup finds a scrap type by name, ignoring case
func (c *Catalog) Lookup(name string) (ScrapType, bool) {
	for _, t := range c.types {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return ScrapType{}, false
}

// RegisterRoutes mounts GET /scrap-types
func RegisterRoutes(r chi.Router, c *Catalog) {
	r.Get("/scrap-types", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteSuccess(w, http.StatusOK, api.M{"scrap_types": c.All()})
	})
}
