package index

import (
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
)

// Backend names accepted in Options.Backend.
const (
	BackendHNSW = "hnsw"
	BackendFlat = "flat"
)

// Options configures an EmbeddingIndex. Zero fields take the defaults of
// DefaultOptions when passed through Normalize.
type Options struct {
	Dimension int                     `yaml:"dimension" json:"dimension"`
	Backend   string                  `yaml:"backend" json:"backend"`
	Metric    distance.DistanceMetric `yaml:"metric" json:"metric"`
	Precision distance.PrecisionType  `yaml:"precision" json:"precision"`

	// HNSW parameters.
	M              int   `yaml:"m" json:"m"`
	EfConstruction int   `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int   `yaml:"ef_search" json:"ef_search"`
	Seed           int64 `yaml:"seed" json:"seed"`

	// ExactBelow switches search to an exhaustive scan while the index holds
	// at most this many vectors, so small graphs always get exact answers.
	// A negative value always uses the approximate search.
	ExactBelow int `yaml:"exact_below" json:"exact_below"`
	// VacuumRatio is the tombstone ratio above which Maintain rebuilds the graph.
	VacuumRatio float64 `yaml:"vacuum_ratio" json:"vacuum_ratio"`
}

func DefaultOptions(dim int) Options {
	return Options{
		Dimension:      dim,
		Backend:        BackendHNSW,
		Metric:         distance.Cosine,
		Precision:      distance.Float32,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Seed:           1,
		ExactBelow:     1000,
		VacuumRatio:    0.2,
	}
}

// Normalize fills zero fields with defaults and validates the result.
func (o Options) Normalize() (Options, error) {
	def := DefaultOptions(o.Dimension)
	if o.Backend == "" {
		o.Backend = def.Backend
	}
	if o.Metric == "" {
		o.Metric = def.Metric
	}
	if o.Precision == "" {
		o.Precision = def.Precision
	}
	if o.M == 0 {
		o.M = def.M
	}
	if o.EfConstruction == 0 {
		o.EfConstruction = def.EfConstruction
	}
	if o.EfSearch == 0 {
		o.EfSearch = def.EfSearch
	}
	if o.ExactBelow == 0 {
		o.ExactBelow = def.ExactBelow
	}
	if o.VacuumRatio == 0 {
		o.VacuumRatio = def.VacuumRatio
	}

	if o.Dimension <= 0 {
		return o, fmt.Errorf("index: dimension must be positive, got %d", o.Dimension)
	}
	switch o.Backend {
	case BackendHNSW, BackendFlat:
	default:
		return o, fmt.Errorf("index: unknown backend %q", o.Backend)
	}
	if o.Backend == BackendFlat && o.Precision != distance.Float32 {
		return o, fmt.Errorf("index: flat backend only supports float32 precision")
	}
	if err := distance.Validate(o.Metric, o.Precision); err != nil {
		return o, fmt.Errorf("index: %w", err)
	}
	if o.M < 2 || o.EfConstruction < 1 || o.EfSearch < 1 {
		return o, fmt.Errorf("index: invalid hnsw parameters m=%d ef_construction=%d ef_search=%d",
			o.M, o.EfConstruction, o.EfSearch)
	}
	if o.VacuumRatio < 0 || o.VacuumRatio > 1 {
		return o, fmt.Errorf("index: vacuum_ratio must be in [0,1], got %f", o.VacuumRatio)
	}
	return o, nil
}
