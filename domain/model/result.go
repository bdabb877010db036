package model

import (
	"sort"

	"diffex/domain/core"
)

// TestKind distinguishes the hypothesis test families
type TestKind string

const (
	TestLikelihoodRatio TestKind = "lrt"
	TestWald            TestKind = "wald"
)

// TestResult holds the statistics of one feature under one named test.
// Undefined statistics (per-feature numerical failures) are nil pointers,
// never zero values, so a missing statistic can never be read as a computed
// zero.
type TestResult struct {
	FeatureID core.FeatureID `json:"feature_id"`
	Statistic *float64       `json:"statistic,omitempty"`
	DF        int            `json:"df"`
	PValue    *float64       `json:"p_value,omitempty"`
	QValue    *float64       `json:"q_value,omitempty"`
	// EffectSize is the tested coefficient estimate (Wald); for the
	// likelihood-ratio test it is the condition coefficient of the full fit
	// when resolvable.
	EffectSize *float64 `json:"effect_size,omitempty"`
	// StdErrOrRSS carries the coefficient standard error (Wald) or the full
	// model's residual sum of squares (likelihood ratio), per the output
	// contract.
	StdErrOrRSS *float64 `json:"standard_error_or_rss,omitempty"`
	MeanObs     float64  `json:"mean_observed_abundance"`
	Failure     string   `json:"failure,omitempty"`
}

// Defined reports whether the result carries a usable p-value
func (r *TestResult) Defined() bool {
	return r != nil && r.PValue != nil
}

// TestSet holds the per-feature results of one named test. Rerunning a test
// under the same name replaces the whole set.
type TestSet struct {
	Name    string
	Kind    TestKind
	Results map[core.FeatureID]*TestResult
}

// NewTestSet creates an empty test set
func NewTestSet(name string, kind TestKind) *TestSet {
	return &TestSet{
		Name:    name,
		Kind:    kind,
		Results: make(map[core.FeatureID]*TestResult),
	}
}

// ResultRow is one row of the exported result table. Column names and
// semantics are the compatibility contract with downstream consumers.
type ResultRow struct {
	FeatureID    core.FeatureID `json:"feature_id" db:"feature_id"`
	ExternalName string         `json:"external_name" db:"external_name"`
	EffectSize   *float64       `json:"effect_size" db:"effect_size"`
	StdErrOrRSS  *float64       `json:"standard_error_or_rss" db:"standard_error_or_rss"`
	PValue       *float64       `json:"p_value" db:"p_value"`
	QValue       *float64       `json:"q_value" db:"q_value"`
	MeanObs      float64        `json:"mean_observed_abundance" db:"mean_observed_abundance"`
	Significant  bool           `json:"significance_flag" db:"significance_flag"`
	Test         string         `json:"test_identifier" db:"test_identifier"`
}

// ResultTable is the exported outcome of one named test across all features,
// sorted by ascending p-value with undefined rows last.
type ResultTable struct {
	TestName string
	Rows     []ResultRow
}

// SortByPValue orders rows ascending by p-value; undefined rows sink to the
// bottom, tied and undefined rows stay in feature order for determinism.
func (t *ResultTable) SortByPValue() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		pi, pj := t.Rows[i].PValue, t.Rows[j].PValue
		switch {
		case pi == nil && pj == nil:
			return false
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
}

// Float returns a pointer to v, for optional statistic fields
func Float(v float64) *float64 {
	return &v
}
