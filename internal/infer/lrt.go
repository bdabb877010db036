// Package infer runs likelihood-ratio and Wald hypothesis tests against
// named model fits.
package infer

import (
	"context"
	"math"
	"sort"

	"diffex/domain/core"
	"diffex/domain/model"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Tester computes per-feature test statistics from prior fits
type Tester struct {
	workers int
}

// NewTester creates a hypothesis tester with a bounded worker pool
func NewTester(workers int) *Tester {
	if workers < 1 {
		workers = 1
	}
	return &Tester{workers: workers}
}

// LikelihoodRatio compares a reduced and a full fit per feature. The
// statistic is n*ln(rss_reduced/rss_full), referred to a chi-squared
// distribution with as many degrees of freedom as the designs differ in
// term count. Nesting is validated structurally before any feature is
// touched.
func (t *Tester) LikelihoodRatio(ctx context.Context, testName string, full, reduced *model.FitSet) (*model.TestSet, error) {
	if err := model.ValidateNested(full.Design.Formula(), reduced.Design.Formula()); err != nil {
		return nil, err
	}
	df := full.Design.NumTerms() - reduced.Design.NumTerms()
	if df <= 0 {
		return nil, core.ConfigError("full model %q has no terms beyond reduced model %q", full.Name, reduced.Name)
	}
	if full.Design.NumSamples() != reduced.Design.NumSamples() {
		return nil, core.ConfigError("fits %q and %q cover different sample counts", full.Name, reduced.Name)
	}
	n := float64(full.Design.NumSamples())
	effectColumn := conditionColumn(full.Design, reduced.Design)
	chi2 := distuv.ChiSquared{K: float64(df)}

	featureIDs := unionFeatureIDs(full, reduced)
	results := make([]*model.TestResult, len(featureIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, featureID := range featureIDs {
		i, featureID := i, featureID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = likelihoodRatioFeature(featureID, full, reduced, n, df, effectColumn, chi2)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := model.NewTestSet(testName, model.TestLikelihoodRatio)
	for i, featureID := range featureIDs {
		set.Results[featureID] = results[i]
	}
	return set, nil
}

func likelihoodRatioFeature(
	featureID core.FeatureID,
	full, reduced *model.FitSet,
	n float64,
	df int,
	effectColumn int,
	chi2 distuv.ChiSquared,
) *model.TestResult {
	result := &model.TestResult{FeatureID: featureID, DF: df}

	fullFit, okFull := full.Model(featureID)
	reducedFit, okReduced := reduced.Model(featureID)
	if !okFull || !okReduced {
		result.Failure = failureMessage(featureID, full, reduced, okFull, okReduced)
		return result
	}
	result.MeanObs = fullFit.MeanObs

	if fullFit.RSS <= 0 || math.IsNaN(fullFit.RSS) || math.IsNaN(reducedFit.RSS) {
		result.Failure = core.NumericalError("degenerate residual sum of squares for feature %q", featureID).Error()
		return result
	}

	stat := n * math.Log(reducedFit.RSS/fullFit.RSS)
	if stat < 0 {
		// The reduced model can only fit worse; tiny negative values are
		// rounding noise.
		stat = 0
	}
	p := chi2.Survival(stat)

	result.Statistic = model.Float(stat)
	result.PValue = model.Float(p)
	result.StdErrOrRSS = model.Float(fullFit.RSS)
	if effectColumn >= 0 && effectColumn < len(fullFit.Coefficients) {
		result.EffectSize = model.Float(fullFit.Coefficients[effectColumn])
	}
	return result
}

// conditionColumn finds the first full-design column missing from the
// reduced design: the condition-of-interest coefficient reported as the
// likelihood-ratio effect size. Returns -1 when not resolvable.
func conditionColumn(full, reduced *model.DesignMatrix) int {
	reducedCols := make(map[string]bool)
	for _, c := range reduced.Columns() {
		reducedCols[c] = true
	}
	for i, c := range full.Columns() {
		if !reducedCols[c] {
			return i
		}
	}
	return -1
}

// unionFeatureIDs returns every feature either fit attempted, in a stable
// order
func unionFeatureIDs(full, reduced *model.FitSet) []core.FeatureID {
	seen := make(map[core.FeatureID]bool)
	var ids []core.FeatureID
	add := func(set *model.FitSet) {
		for id := range set.Models {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		for id := range set.Failures {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	add(full)
	add(reduced)
	sortFeatureIDs(ids)
	return ids
}

func sortFeatureIDs(ids []core.FeatureID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func failureMessage(featureID core.FeatureID, full, reduced *model.FitSet, okFull, okReduced bool) string {
	if !okFull {
		if err, ok := full.Failures[featureID]; ok {
			return err.Error()
		}
		return core.NumericalError("feature %q has no fit under model %q", featureID, full.Name).Error()
	}
	if !okReduced {
		if err, ok := reduced.Failures[featureID]; ok {
			return err.Error()
		}
		return core.NumericalError("feature %q has no fit under model %q", featureID, reduced.Name).Error()
	}
	return ""
}
