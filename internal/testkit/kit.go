// Package testkit generates fixed-seed synthetic experiments for engine
// tests: two-condition designs with known per-feature abundance, bootstrap
// noise, and optional injected mean shifts.
package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"diffex/domain/core"
	"diffex/domain/experiment"
)

// Options controls synthetic experiment generation
type Options struct {
	Conditions     []string // default ["A", "B"]
	Replicates     int      // samples per condition, default 3
	Features       int      // default 50
	Bootstraps     int      // replicate count B, default 30
	BootstrapSD    float64  // technical noise on the log scale, default 0.1
	BiologicalSD   float64  // per-sample noise on the log scale, default 0.05
	Seed           int64
	// Shifts maps feature ids to a log-scale mean shift applied to every
	// sample of the last condition.
	Shifts map[core.FeatureID]float64
	// ZeroVariance lists features whose bootstrap replicates are all
	// identical (zero technical variance).
	ZeroVariance map[core.FeatureID]bool
	// PairedNoise reuses each replicate's noise pattern across conditions,
	// so unshifted features carry no between-condition signal at all. Keeps
	// differential-testing scenarios deterministic.
	PairedNoise bool
}

// Experiment is a fully generated synthetic run input
type Experiment struct {
	Registry *experiment.SampleRegistry
	Features *experiment.FeatureSet
	Loader   *MemoryLoader
}

// MemoryLoader serves pre-generated bootstrap replicates from memory,
// standing in for the external quantification output
type MemoryLoader struct {
	data map[core.SampleID]map[core.FeatureID][]float64
}

// Load returns the replicates for one sample
func (l *MemoryLoader) Load(_ context.Context, sample experiment.Sample) (map[core.FeatureID][]float64, error) {
	reps, ok := l.data[sample.ID]
	if !ok {
		return nil, fmt.Errorf("no synthetic bootstrap data for sample %q", sample.ID)
	}
	return reps, nil
}

// FeatureID returns the id of the i-th generated feature (0-based)
func FeatureID(i int) core.FeatureID {
	return core.FeatureID(fmt.Sprintf("tx%04d", i))
}

// Generate builds a deterministic synthetic experiment
func Generate(opts Options) (*Experiment, error) {
	if len(opts.Conditions) == 0 {
		opts.Conditions = []string{"A", "B"}
	}
	if opts.Replicates == 0 {
		opts.Replicates = 3
	}
	if opts.Features == 0 {
		opts.Features = 50
	}
	if opts.Bootstraps == 0 {
		opts.Bootstraps = 30
	}
	if opts.BootstrapSD == 0 {
		opts.BootstrapSD = 0.1
	}
	if opts.BiologicalSD == 0 {
		opts.BiologicalSD = 0.05
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	var samples []experiment.Sample
	for _, cond := range opts.Conditions {
		for r := 1; r <= opts.Replicates; r++ {
			samples = append(samples, experiment.Sample{
				ID:        core.SampleID(fmt.Sprintf("%s_rep%d", cond, r)),
				Condition: cond,
				Covariates: map[string]string{
					"genotype":    "wt",
					"temperature": "22",
					"replicate":   fmt.Sprintf("%d", r),
				},
			})
		}
	}
	registry, err := experiment.NewSampleRegistry(samples)
	if err != nil {
		return nil, err
	}

	var features []experiment.Feature
	baseMeans := make([]float64, opts.Features)
	for i := 0; i < opts.Features; i++ {
		id := FeatureID(i)
		features = append(features, experiment.Feature{
			ID:           id,
			ExternalName: fmt.Sprintf("GENE%04d", i),
		})
		// Base log abundance spread over a realistic dynamic range.
		baseMeans[i] = 2 + 6*rng.Float64()
	}
	featureSet, err := experiment.NewFeatureSet(features)
	if err != nil {
		return nil, err
	}

	shiftedCondition := opts.Conditions[len(opts.Conditions)-1]
	data := make(map[core.SampleID]map[core.FeatureID][]float64)
	for _, s := range samples {
		data[s.ID] = make(map[core.FeatureID][]float64, opts.Features)
	}
	for i := 0; i < opts.Features; i++ {
		id := FeatureID(i)
		// One noise pattern per replicate slot; with PairedNoise the same
		// pattern serves every condition's matching replicate.
		bioNoise := make([][]float64, len(opts.Conditions))
		bootNoise := make([][][]float64, len(opts.Conditions))
		for c := range opts.Conditions {
			if opts.PairedNoise && c > 0 {
				bioNoise[c] = bioNoise[0]
				bootNoise[c] = bootNoise[0]
				continue
			}
			bioNoise[c] = make([]float64, opts.Replicates)
			bootNoise[c] = make([][]float64, opts.Replicates)
			for r := 0; r < opts.Replicates; r++ {
				bioNoise[c][r] = rng.NormFloat64() * opts.BiologicalSD
				bootNoise[c][r] = make([]float64, opts.Bootstraps)
				for b := 0; b < opts.Bootstraps; b++ {
					bootNoise[c][r][b] = rng.NormFloat64() * opts.BootstrapSD
				}
			}
		}
		for c, cond := range opts.Conditions {
			for r := 0; r < opts.Replicates; r++ {
				sampleID := core.SampleID(fmt.Sprintf("%s_rep%d", cond, r+1))
				mu := baseMeans[i] + bioNoise[c][r]
				if cond == shiftedCondition {
					mu += opts.Shifts[id]
				}
				reps := make([]float64, opts.Bootstraps)
				if opts.ZeroVariance[id] {
					v := math.Exp(mu)
					for b := range reps {
						reps[b] = v
					}
				} else {
					for b := range reps {
						reps[b] = math.Exp(mu + bootNoise[c][r][b])
					}
				}
				data[sampleID][id] = reps
			}
		}
	}

	return &Experiment{
		Registry: registry,
		Features: featureSet,
		Loader:   &MemoryLoader{data: data},
	}, nil
}
