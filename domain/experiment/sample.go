package experiment

import (
	"diffex/domain/core"
)

// Sample describes one sequenced sample: its condition assignment, the
// covariates used for model building, and the handle to its bootstrap data.
// Immutable after registry construction.
type Sample struct {
	ID            core.SampleID     `json:"id"`
	Condition     string            `json:"condition"`
	Covariates    map[string]string `json:"covariates"`
	BootstrapPath string            `json:"bootstrap_path,omitempty"`
}

// Covariate returns the named covariate value for the sample. The condition
// label is addressable as the "condition" covariate.
func (s Sample) Covariate(name string) (string, bool) {
	if name == "condition" {
		return s.Condition, true
	}
	v, ok := s.Covariates[name]
	return v, ok
}

// SampleRegistry holds the ordered, immutable sample set for one analysis.
// Sample order fixed here is the column order of every matrix downstream.
type SampleRegistry struct {
	samples []Sample
	index   map[core.SampleID]int
}

// NewSampleRegistry builds a registry from an ordered sample list
func NewSampleRegistry(samples []Sample) (*SampleRegistry, error) {
	index := make(map[core.SampleID]int, len(samples))
	for i, s := range samples {
		if s.ID == "" {
			return nil, core.DataError("sample at position %d has an empty id", i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, core.DataError("duplicate sample id %q", s.ID)
		}
		index[s.ID] = i
	}
	reg := &SampleRegistry{
		samples: append([]Sample(nil), samples...),
		index:   index,
	}
	return reg, nil
}

// Len returns the number of registered samples
func (r *SampleRegistry) Len() int {
	return len(r.samples)
}

// Samples returns the samples in registry order
func (r *SampleRegistry) Samples() []Sample {
	return append([]Sample(nil), r.samples...)
}

// IDs returns the sample ids in registry order
func (r *SampleRegistry) IDs() []core.SampleID {
	ids := make([]core.SampleID, len(r.samples))
	for i, s := range r.samples {
		ids[i] = s.ID
	}
	return ids
}

// ByID looks up a sample by id
func (r *SampleRegistry) ByID(id core.SampleID) (Sample, bool) {
	i, ok := r.index[id]
	if !ok {
		return Sample{}, false
	}
	return r.samples[i], true
}

// Conditions returns the distinct condition labels in first-seen order
func (r *SampleRegistry) Conditions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.samples {
		if !seen[s.Condition] {
			seen[s.Condition] = true
			out = append(out, s.Condition)
		}
	}
	return out
}

// ConditionOf returns the condition label for a sample id
func (r *SampleRegistry) ConditionOf(id core.SampleID) (string, bool) {
	s, ok := r.ByID(id)
	if !ok {
		return "", false
	}
	return s.Condition, true
}
