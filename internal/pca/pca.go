// Package pca computes principal components of the normalized observation
// matrix for sample-level QC.
package pca

import (
	"math"

	"diffex/domain/core"
	"diffex/domain/experiment"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Options controls the decomposition
type Options struct {
	// Scale divides each centered feature by its standard deviation
	// (correlation-structure PCA). Features with zero spread are dropped.
	Scale bool
	// Components lists the 1-based component indices to report scores for.
	// Empty means the first two.
	Components []int
}

// Result holds per-sample component scores and the proportion of variance
// explained. Component sign is arbitrary; consumers must not read direction
// into it.
type Result struct {
	SampleIDs  []core.SampleID `json:"sample_ids"`
	Components []int           `json:"components"`
	// Scores is indexed [sample][requested component]
	Scores [][]float64 `json:"scores"`
	// Explained is the proportion of total variance per requested component
	Explained []float64 `json:"percent_variance_explained"`
}

// Score returns the score of one sample on one requested component
func (r *Result) Score(sampleIdx, componentIdx int) float64 {
	return r.Scores[sampleIdx][componentIdx]
}

// Compute runs PCA over the observation matrix restricted to the given
// sample subset (nil means all samples). Feature rows with undefined entries
// are dropped before centering.
func Compute(obs *experiment.ObservationMatrix, sampleSubset []core.SampleID, opts Options) (*Result, error) {
	if sampleSubset == nil {
		sampleSubset = obs.SampleIDs()
	}
	sub, err := obs.SubsetSamples(sampleSubset)
	if err != nil {
		return nil, err
	}

	var rows [][]float64
	for _, id := range sub.FeatureIDs() {
		if !sub.Complete(id) {
			continue
		}
		row, _ := sub.Row(id)
		rows = append(rows, row)
	}

	n := len(sampleSubset)
	if n < 2 {
		return nil, core.DataError("PCA needs at least 2 samples, got %d", n)
	}
	if len(rows) < 2 {
		return nil, core.DataError("PCA needs at least 2 complete features, got %d", len(rows))
	}

	// Samples are the observations: center (and optionally scale) each
	// feature across samples, then lay features out as columns.
	var cols [][]float64
	for _, row := range rows {
		mean := stat.Mean(row, nil)
		centered := make([]float64, n)
		for j, v := range row {
			centered[j] = v - mean
		}
		if opts.Scale {
			sd := math.Sqrt(stat.Variance(row, nil))
			if sd == 0 {
				continue
			}
			for j := range centered {
				centered[j] /= sd
			}
		}
		cols = append(cols, centered)
	}
	if len(cols) < 2 {
		return nil, core.DataError("PCA has fewer than 2 features with nonzero spread after scaling")
	}

	data := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		for i, v := range col {
			data.Set(i, j, v)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return nil, core.NumericalError("SVD of the centered observation matrix did not converge")
	}
	values := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)

	available := len(values)
	components := opts.Components
	if len(components) == 0 {
		components = []int{1, 2}
	}
	for _, c := range components {
		if c < 1 || c > available {
			return nil, core.ConfigError("component %d is out of range; %d components are available", c, available)
		}
	}

	total := 0.0
	for _, s := range values {
		total += s * s
	}
	if total == 0 {
		return nil, core.NumericalError("observation matrix has no variance after centering")
	}

	scores := make([][]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = make([]float64, len(components))
		for k, c := range components {
			scores[i][k] = u.At(i, c-1) * values[c-1]
		}
	}
	explained := make([]float64, len(components))
	for k, c := range components {
		explained[k] = values[c-1] * values[c-1] / total
	}

	return &Result{
		SampleIDs:  append([]core.SampleID(nil), sampleSubset...),
		Components: append([]int(nil), components...),
		Scores:     scores,
		Explained:  explained,
	}, nil
}
