// Package design resolves typed model formulas against the sample covariate
// table into numeric design matrices.
package design

import (
	"strconv"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/domain/model"

	"gonum.org/v1/gonum/mat"
)

// InterceptColumn is the resolved name of the intercept term
const InterceptColumn = "(Intercept)"

// Builder resolves formulas against one sample registry
type Builder struct {
	registry *experiment.SampleRegistry
}

// NewBuilder creates a design matrix builder over a sample registry
func NewBuilder(registry *experiment.SampleRegistry) *Builder {
	return &Builder{registry: registry}
}

// Build resolves a formula into a design matrix with rows in the given
// sample order. Categorical terms are dummy-encoded against their declared
// reference level; remaining terms are parsed as numeric columns.
func (b *Builder) Build(formula model.Formula, order []core.SampleID) (*model.DesignMatrix, error) {
	samples := make([]experiment.Sample, len(order))
	for i, id := range order {
		s, ok := b.registry.ByID(id)
		if !ok {
			return nil, core.DataError("sample %q referenced by the design is not registered", id)
		}
		samples[i] = s
	}

	var columns []string
	var encoders []func(experiment.Sample) (float64, error)

	if formula.Intercept {
		columns = append(columns, InterceptColumn)
		encoders = append(encoders, func(experiment.Sample) (float64, error) { return 1, nil })
	}

	for _, term := range formula.Terms {
		term := term
		if term.Categorical() {
			levels, err := observedLevels(samples, term)
			if err != nil {
				return nil, err
			}
			for _, level := range levels {
				level := level
				columns = append(columns, term.Covariate+level)
				encoders = append(encoders, func(s experiment.Sample) (float64, error) {
					v, ok := s.Covariate(term.Covariate)
					if !ok {
						return 0, core.ConfigError("sample %q is missing required covariate %q", s.ID, term.Covariate)
					}
					if v == level {
						return 1, nil
					}
					return 0, nil
				})
			}
			continue
		}
		columns = append(columns, term.Covariate)
		encoders = append(encoders, func(s experiment.Sample) (float64, error) {
			v, ok := s.Covariate(term.Covariate)
			if !ok {
				return 0, core.ConfigError("sample %q is missing required covariate %q", s.ID, term.Covariate)
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, core.ConfigError("covariate %q of sample %q is not numeric: %q", term.Covariate, s.ID, v)
			}
			return f, nil
		})
	}

	if len(columns) == 0 {
		return nil, core.ConfigError("formula resolves to an empty design")
	}

	data := mat.NewDense(len(samples), len(columns), nil)
	for i, s := range samples {
		for j, encode := range encoders {
			v, err := encode(s)
			if err != nil {
				return nil, err
			}
			data.Set(i, j, v)
		}
	}
	return model.NewDesignMatrix(formula, columns, order, data), nil
}

// BuildPair resolves a full/reduced formula pair after validating that the
// reduced formula is a structural submodel of the full one.
func (b *Builder) BuildPair(full, reduced model.Formula, order []core.SampleID) (*model.DesignMatrix, *model.DesignMatrix, error) {
	if err := model.ValidateNested(full, reduced); err != nil {
		return nil, nil, err
	}
	fullDesign, err := b.Build(full, order)
	if err != nil {
		return nil, nil, err
	}
	reducedDesign, err := b.Build(reduced, order)
	if err != nil {
		return nil, nil, err
	}
	return fullDesign, reducedDesign, nil
}

// observedLevels returns the non-reference levels of a categorical term in
// first-seen order, validating that the reference level occurs.
func observedLevels(samples []experiment.Sample, term model.Term) ([]string, error) {
	seen := make(map[string]bool)
	var levels []string
	refSeen := false
	for _, s := range samples {
		v, ok := s.Covariate(term.Covariate)
		if !ok {
			return nil, core.ConfigError("sample %q is missing required covariate %q", s.ID, term.Covariate)
		}
		if v == term.Reference {
			refSeen = true
			continue
		}
		if !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	if !refSeen {
		return nil, core.ConfigError("reference level %q for covariate %q is not observed in any sample", term.Reference, term.Covariate)
	}
	if len(levels) == 0 {
		return nil, core.ConfigError("covariate %q has no level besides its reference %q", term.Covariate, term.Reference)
	}
	return levels, nil
}
