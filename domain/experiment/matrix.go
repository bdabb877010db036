package experiment

import (
	"math"

	"diffex/domain/core"

	"github.com/montanaflynn/stats"
)

// ObservationMatrix holds point abundance estimates, one row per feature and
// one column per sample. Column order is the sample order of the analysis
// and must match every design matrix built for the same run.
type ObservationMatrix struct {
	featureIDs []core.FeatureID
	sampleIDs  []core.SampleID
	values     [][]float64
	featureIdx map[core.FeatureID]int
	sampleIdx  map[core.SampleID]int
}

// NewObservationMatrix builds a matrix from ordered ids and row-major values
func NewObservationMatrix(featureIDs []core.FeatureID, sampleIDs []core.SampleID, values [][]float64) (*ObservationMatrix, error) {
	if len(values) != len(featureIDs) {
		return nil, core.DataError("observation matrix has %d rows for %d features", len(values), len(featureIDs))
	}
	for i, row := range values {
		if len(row) != len(sampleIDs) {
			return nil, core.DataError("observation row for feature %q has %d columns for %d samples", featureIDs[i], len(row), len(sampleIDs))
		}
	}
	fIdx := make(map[core.FeatureID]int, len(featureIDs))
	for i, id := range featureIDs {
		fIdx[id] = i
	}
	sIdx := make(map[core.SampleID]int, len(sampleIDs))
	for j, id := range sampleIDs {
		sIdx[id] = j
	}
	return &ObservationMatrix{
		featureIDs: append([]core.FeatureID(nil), featureIDs...),
		sampleIDs:  append([]core.SampleID(nil), sampleIDs...),
		values:     values,
		featureIdx: fIdx,
		sampleIdx:  sIdx,
	}, nil
}

// NumFeatures returns the row count
func (m *ObservationMatrix) NumFeatures() int { return len(m.featureIDs) }

// NumSamples returns the column count
func (m *ObservationMatrix) NumSamples() int { return len(m.sampleIDs) }

// FeatureIDs returns row ids in matrix order
func (m *ObservationMatrix) FeatureIDs() []core.FeatureID {
	return append([]core.FeatureID(nil), m.featureIDs...)
}

// SampleIDs returns column ids in matrix order
func (m *ObservationMatrix) SampleIDs() []core.SampleID {
	return append([]core.SampleID(nil), m.sampleIDs...)
}

// Row returns a copy of the observation row for a feature
func (m *ObservationMatrix) Row(id core.FeatureID) ([]float64, bool) {
	i, ok := m.featureIdx[id]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), m.values[i]...), true
}

// RowAt returns a copy of the row at a matrix position
func (m *ObservationMatrix) RowAt(i int) []float64 {
	return append([]float64(nil), m.values[i]...)
}

// HasSample reports whether a sample column exists
func (m *ObservationMatrix) HasSample(id core.SampleID) bool {
	_, ok := m.sampleIdx[id]
	return ok
}

// RowMean returns the mean observation for a feature, ignoring NaN entries.
// Returns NaN when no entry is defined.
func (m *ObservationMatrix) RowMean(id core.FeatureID) float64 {
	i, ok := m.featureIdx[id]
	if !ok {
		return math.NaN()
	}
	defined := make([]float64, 0, len(m.values[i]))
	for _, v := range m.values[i] {
		if !math.IsNaN(v) {
			defined = append(defined, v)
		}
	}
	if len(defined) == 0 {
		return math.NaN()
	}
	mean, err := stats.Mean(defined)
	if err != nil {
		return math.NaN()
	}
	return mean
}

// SubsetSamples reorders and restricts columns to the given sample order.
// Every requested sample must exist in the matrix.
func (m *ObservationMatrix) SubsetSamples(order []core.SampleID) (*ObservationMatrix, error) {
	cols := make([]int, len(order))
	for j, id := range order {
		idx, ok := m.sampleIdx[id]
		if !ok {
			return nil, core.DataError("sample %q is not present in the observation matrix", id)
		}
		cols[j] = idx
	}
	values := make([][]float64, len(m.values))
	for i, row := range m.values {
		sub := make([]float64, len(cols))
		for j, c := range cols {
			sub[j] = row[c]
		}
		values[i] = sub
	}
	return NewObservationMatrix(m.featureIDs, order, values)
}

// LogTransform returns a new matrix of ln(value + pseudocount). Applied
// ahead of variance estimation and model fitting.
func (m *ObservationMatrix) LogTransform(pseudocount float64) *ObservationMatrix {
	values := make([][]float64, len(m.values))
	for i, row := range m.values {
		out := make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				out[j] = math.NaN()
				continue
			}
			out[j] = math.Log(v + pseudocount)
		}
		values[i] = out
	}
	t, _ := NewObservationMatrix(m.featureIDs, m.sampleIDs, values)
	return t
}

// Complete reports whether a feature row has no NaN entries
func (m *ObservationMatrix) Complete(id core.FeatureID) bool {
	i, ok := m.featureIdx[id]
	if !ok {
		return false
	}
	for _, v := range m.values[i] {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
