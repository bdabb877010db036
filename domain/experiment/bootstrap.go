package experiment

import (
	"diffex/domain/core"

	"github.com/montanaflynn/stats"
)

// BootstrapSet holds the bootstrap abundance replicates for every sample of
// one analysis, keyed by sample id then feature id. The replicate count B
// must be constant across samples for any given feature.
type BootstrapSet struct {
	replicates map[core.SampleID]map[core.FeatureID][]float64
}

// NewBootstrapSet creates an empty bootstrap set
func NewBootstrapSet() *BootstrapSet {
	return &BootstrapSet{
		replicates: make(map[core.SampleID]map[core.FeatureID][]float64),
	}
}

// Add records the replicate vectors for one sample
func (b *BootstrapSet) Add(sample core.SampleID, reps map[core.FeatureID][]float64) {
	b.replicates[sample] = reps
}

// Replicates returns the replicate vector for a sample/feature pair
func (b *BootstrapSet) Replicates(sample core.SampleID, feature core.FeatureID) ([]float64, bool) {
	byFeature, ok := b.replicates[sample]
	if !ok {
		return nil, false
	}
	reps, ok := byFeature[feature]
	return reps, ok
}

// Validate checks that every sample carries replicates for every feature and
// that the replicate count is constant across samples per feature. Returns
// the common replicate count B.
func (b *BootstrapSet) Validate(registry *SampleRegistry, features *FeatureSet) (int, error) {
	commonB := 0
	for _, sampleID := range registry.IDs() {
		byFeature, ok := b.replicates[sampleID]
		if !ok {
			return 0, core.DataError("no bootstrap data loaded for sample %q", sampleID)
		}
		for _, featureID := range features.IDs() {
			reps, ok := byFeature[featureID]
			if !ok || len(reps) == 0 {
				return 0, core.DataError("sample %q has no bootstrap replicates for feature %q", sampleID, featureID)
			}
			if commonB == 0 {
				commonB = len(reps)
			}
			if len(reps) != commonB {
				return 0, core.DataError(
					"inconsistent bootstrap replicate count for feature %q: sample %q has %d, expected %d",
					featureID, sampleID, len(reps), commonB)
			}
		}
	}
	if commonB == 0 {
		return 0, core.DataError("bootstrap set is empty")
	}
	return commonB, nil
}

// PointEstimates reduces the replicates to per-sample means and assembles the
// observation matrix in registry/feature order.
func (b *BootstrapSet) PointEstimates(registry *SampleRegistry, features *FeatureSet) (*ObservationMatrix, error) {
	sampleIDs := registry.IDs()
	featureIDs := features.IDs()
	values := make([][]float64, len(featureIDs))
	for i, featureID := range featureIDs {
		row := make([]float64, len(sampleIDs))
		for j, sampleID := range sampleIDs {
			reps, ok := b.Replicates(sampleID, featureID)
			if !ok {
				return nil, core.DataError("sample %q has no bootstrap replicates for feature %q", sampleID, featureID)
			}
			mean, err := stats.Mean(reps)
			if err != nil {
				return nil, core.DataError("cannot reduce bootstrap replicates for sample %q feature %q", sampleID, featureID)
			}
			row[j] = mean
		}
		values[i] = row
	}
	return NewObservationMatrix(featureIDs, sampleIDs, values)
}
