package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DomainSchema describes the L4 semantic memory's facet and ranking
// configuration, loaded from a YAML file so operators can retune
// knowledge-document metadata and search weighting without a rebuild.
// LoadDomainSchema parses one; no other package in this module loads or
// reads it, so L4 search, the hybrid query surface and distillation run
// without it.
type DomainSchema struct {
	// Facets lists the knowledge-document metadata fields exposed for
	// faceted search (e.g. "topic", "source_system", "confidence_tier").
	Facets []FacetSpec `yaml:"facets"`

	// SearchWeights is a per-tier weighting decoded from the file. The
	// hybrid query surface does not read it; it takes
	// models.SearchWeights from its caller.
	SearchWeights SearchWeightSpec `yaml:"search_weights"`

	// ConflictFields lists knowledge-document fields for conflict
	// comparison. Distillation's conflict detection does not read it.
	ConflictFields []string `yaml:"conflict_fields"`
}

// FacetSpec describes one facet field available for faceted search.
type FacetSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"` // "keyword", "date", "number"
	Description string `yaml:"description"`
}

// SearchWeightSpec is the YAML-decodable form of the four-tier hybrid
// query weighting.
type SearchWeightSpec struct {
	ActiveContext float64 `yaml:"active_context"`
	Working       float64 `yaml:"working"`
	Episodic      float64 `yaml:"episodic"`
	Semantic      float64 `yaml:"semantic"`
}

// LoadDomainSchema reads and validates a DomainSchema from path. Missing
// search weights default to an even 0.25 split across the four tiers.
func LoadDomainSchema(path string) (*DomainSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read domain schema %s: %w", path, err)
	}

	var schema DomainSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("config: parse domain schema %s: %w", path, err)
	}

	if schema.SearchWeights == (SearchWeightSpec{}) {
		schema.SearchWeights = SearchWeightSpec{
			ActiveContext: 0.25,
			Working:       0.25,
			Episodic:      0.25,
			Semantic:      0.25,
		}
	}

	for _, f := range schema.Facets {
		if f.Name == "" {
			return nil, fmt.Errorf("config: domain schema %s: facet with empty name", path)
		}
	}

	return &schema, nil
}
