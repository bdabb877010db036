// Package variance derives per-feature technical variance from bootstrap
// replicates and stabilizes it by shrinking toward a global mean-variance
// trend.
package variance

import (
	"context"
	"math"
	"sort"

	"diffex/domain/core"
	"diffex/domain/experiment"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// nearZero is the threshold below which a raw variance counts as degenerate
const nearZero = 1e-12

// Estimates holds the per-feature variance estimates of one run
type Estimates struct {
	Smoothed map[core.FeatureID]float64 // trend-shrunk, floored; used as regression weight
	Raw      map[core.FeatureID]float64 // pooled bootstrap variance before shrinkage
	Floor    float64                    // smallest nonzero raw variance across all features
	B        int                        // bootstrap replicate count
}

// Estimator computes smoothed technical variances
type Estimator struct {
	trendBins   int
	trendWeight float64
	pseudocount float64
	workers     int
}

// NewEstimator creates a variance estimator. trendWeight controls how hard
// raw estimates are pulled toward the binned mean-variance trend.
func NewEstimator(trendBins int, trendWeight, pseudocount float64, workers int) *Estimator {
	if trendBins < 1 {
		trendBins = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Estimator{
		trendBins:   trendBins,
		trendWeight: trendWeight,
		pseudocount: pseudocount,
		workers:     workers,
	}
}

// Estimate derives one smoothed variance per feature. Bootstrap replicate
// counts are validated up front; a mismatch aborts with a data error before
// any per-feature work starts.
func (e *Estimator) Estimate(
	ctx context.Context,
	boots *experiment.BootstrapSet,
	registry *experiment.SampleRegistry,
	features *experiment.FeatureSet,
	logObs *experiment.ObservationMatrix,
) (*Estimates, error) {
	b, err := boots.Validate(registry, features)
	if err != nil {
		return nil, err
	}
	if b < 2 {
		return nil, core.DataError("variance estimation needs at least 2 bootstrap replicates, got %d", b)
	}

	featureIDs := features.IDs()
	sampleIDs := registry.IDs()
	raw := make([]float64, len(featureIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, featureID := range featureIDs {
		i, featureID := i, featureID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := e.pooledBootstrapVariance(boots, sampleIDs, featureID)
			if err != nil {
				return err
			}
			raw[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	floor := minNonzero(raw)
	if floor == 0 {
		return nil, core.NumericalError("all features have zero bootstrap variance; nothing to stabilize against")
	}

	trend := e.fitTrend(featureIDs, raw, logObs)
	lambda := e.trendWeight / (e.trendWeight + float64(b-1))

	est := &Estimates{
		Smoothed: make(map[core.FeatureID]float64, len(featureIDs)),
		Raw:      make(map[core.FeatureID]float64, len(featureIDs)),
		Floor:    floor,
		B:        b,
	}
	for i, featureID := range featureIDs {
		est.Raw[featureID] = raw[i]
		if raw[i] < nearZero {
			// Degenerate bootstrap variance: floor to the smallest nonzero
			// raw variance so later test statistics stay finite.
			est.Smoothed[featureID] = floor
			continue
		}
		smoothed := (1-lambda)*raw[i] + lambda*trend[i]
		if smoothed < floor {
			smoothed = floor
		}
		est.Smoothed[featureID] = smoothed
	}
	return est, nil
}

// pooledBootstrapVariance computes the mean across samples of the per-sample
// log-scale replicate variance for one feature
func (e *Estimator) pooledBootstrapVariance(boots *experiment.BootstrapSet, sampleIDs []core.SampleID, featureID core.FeatureID) (float64, error) {
	perSample := make([]float64, 0, len(sampleIDs))
	for _, sampleID := range sampleIDs {
		reps, ok := boots.Replicates(sampleID, featureID)
		if !ok {
			return 0, core.DataError("sample %q has no bootstrap replicates for feature %q", sampleID, featureID)
		}
		logReps := make([]float64, len(reps))
		for k, v := range reps {
			logReps[k] = math.Log(v + e.pseudocount)
		}
		v, err := stats.SampleVariance(logReps)
		if err != nil {
			return 0, core.DataError("cannot compute bootstrap variance for sample %q feature %q", sampleID, featureID)
		}
		perSample = append(perSample, v)
	}
	pooled, err := stats.Mean(perSample)
	if err != nil {
		return 0, core.DataError("cannot pool bootstrap variance for feature %q", featureID)
	}
	return pooled, nil
}

// fitTrend bins features by mean log abundance and returns, per feature, the
// mean raw variance of its bin. Bins without usable members fall back to the
// global mean of nonzero raw variances.
func (e *Estimator) fitTrend(featureIDs []core.FeatureID, raw []float64, logObs *experiment.ObservationMatrix) []float64 {
	n := len(featureIDs)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	means := make([]float64, n)
	for i, id := range featureIDs {
		means[i] = logObs.RowMean(id)
	}
	sort.SliceStable(order, func(a, b int) bool { return means[order[a]] < means[order[b]] })

	bins := e.trendBins
	if bins > n {
		bins = n
	}

	globalSum, globalCount := 0.0, 0
	for _, v := range raw {
		if v >= nearZero {
			globalSum += v
			globalCount++
		}
	}
	globalMean := 0.0
	if globalCount > 0 {
		globalMean = globalSum / float64(globalCount)
	}

	trend := make([]float64, n)
	for b := 0; b < bins; b++ {
		lo := b * n / bins
		hi := (b + 1) * n / bins
		sum, count := 0.0, 0
		for _, idx := range order[lo:hi] {
			if raw[idx] >= nearZero {
				sum += raw[idx]
				count++
			}
		}
		binMean := globalMean
		if count > 0 {
			binMean = sum / float64(count)
		}
		for _, idx := range order[lo:hi] {
			trend[idx] = binMean
		}
	}
	return trend
}

// minNonzero returns the smallest value at or above the degeneracy
// threshold, or 0 when none exists
func minNonzero(values []float64) float64 {
	min := 0.0
	for _, v := range values {
		if v < nearZero || math.IsNaN(v) {
			continue
		}
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}
