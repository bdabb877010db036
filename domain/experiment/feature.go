package experiment

import (
	"diffex/domain/core"
)

// Feature is a gene or transcript whose abundance is measured
type Feature struct {
	ID               core.FeatureID `json:"id"`
	ExternalName     string         `json:"external_name,omitempty"`
	AggregationGroup string         `json:"aggregation_group,omitempty"`
}

// FeatureSet is the ordered, immutable feature universe for one analysis
type FeatureSet struct {
	features []Feature
	index    map[core.FeatureID]int
}

// NewFeatureSet builds a feature set from an ordered feature list
func NewFeatureSet(features []Feature) (*FeatureSet, error) {
	index := make(map[core.FeatureID]int, len(features))
	for i, f := range features {
		if f.ID == "" {
			return nil, core.DataError("feature at position %d has an empty id", i)
		}
		if _, dup := index[f.ID]; dup {
			return nil, core.DataError("duplicate feature id %q", f.ID)
		}
		index[f.ID] = i
	}
	return &FeatureSet{
		features: append([]Feature(nil), features...),
		index:    index,
	}, nil
}

// Len returns the number of features
func (fs *FeatureSet) Len() int {
	return len(fs.features)
}

// IDs returns feature ids in set order
func (fs *FeatureSet) IDs() []core.FeatureID {
	ids := make([]core.FeatureID, len(fs.features))
	for i, f := range fs.features {
		ids[i] = f.ID
	}
	return ids
}

// ByID looks up a feature by id
func (fs *FeatureSet) ByID(id core.FeatureID) (Feature, bool) {
	i, ok := fs.index[id]
	if !ok {
		return Feature{}, false
	}
	return fs.features[i], true
}

// Position returns the row index of a feature id
func (fs *FeatureSet) Position(id core.FeatureID) (int, bool) {
	i, ok := fs.index[id]
	return i, ok
}

// At returns the feature at a set position
func (fs *FeatureSet) At(i int) Feature {
	return fs.features[i]
}
