package model

import (
	"diffex/domain/core"

	"gonum.org/v1/gonum/mat"
)

// DesignMatrix is the numeric encoding of a formula over the sample
// covariates: one row per sample in a fixed caller-specified order, one
// column per resolved term (intercept column first when present).
type DesignMatrix struct {
	formula   Formula
	columns   []string
	sampleIDs []core.SampleID
	data      *mat.Dense
}

// NewDesignMatrix wraps a resolved design. Row order of data must match
// sampleIDs; column order must match columns.
func NewDesignMatrix(formula Formula, columns []string, sampleIDs []core.SampleID, data *mat.Dense) *DesignMatrix {
	return &DesignMatrix{
		formula:   formula,
		columns:   columns,
		sampleIDs: append([]core.SampleID(nil), sampleIDs...),
		data:      data,
	}
}

// Formula returns the formula the design was resolved from
func (d *DesignMatrix) Formula() Formula {
	return d.formula
}

// NumSamples returns the row count
func (d *DesignMatrix) NumSamples() int {
	return len(d.sampleIDs)
}

// NumTerms returns the column count (including the intercept column)
func (d *DesignMatrix) NumTerms() int {
	return len(d.columns)
}

// Columns returns the resolved column names in design order
func (d *DesignMatrix) Columns() []string {
	return append([]string(nil), d.columns...)
}

// SampleIDs returns the row order of the design
func (d *DesignMatrix) SampleIDs() []core.SampleID {
	return append([]core.SampleID(nil), d.sampleIDs...)
}

// Matrix returns the underlying dense matrix. Callers must not mutate it.
func (d *DesignMatrix) Matrix() *mat.Dense {
	return d.data
}

// CoefficientIndex returns the column position of a resolved coefficient
// name, e.g. "(Intercept)" or "conditionB"
func (d *DesignMatrix) CoefficientIndex(name string) (int, bool) {
	for i, c := range d.columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}
