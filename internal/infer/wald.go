package infer

import (
	"context"
	"math"

	"diffex/domain/core"
	"diffex/domain/model"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Wald tests one fitted coefficient against zero per feature, using the
// standard error from the weighted coefficient covariance. The two-sided
// p-value comes from the standard normal reference distribution.
func (t *Tester) Wald(ctx context.Context, testName string, fitSet *model.FitSet, coefficient string) (*model.TestSet, error) {
	col, ok := fitSet.Design.CoefficientIndex(coefficient)
	if !ok {
		return nil, core.ConfigError("coefficient %q is not a column of model %q (columns: %v)", coefficient, fitSet.Name, fitSet.Design.Columns())
	}
	normal := distuv.UnitNormal

	featureIDs := unionFeatureIDs(fitSet, fitSet)
	results := make([]*model.TestResult, len(featureIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, featureID := range featureIDs {
		i, featureID := i, featureID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = waldFeature(featureID, fitSet, col, normal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := model.NewTestSet(testName, model.TestWald)
	for i, featureID := range featureIDs {
		set.Results[featureID] = results[i]
	}
	return set, nil
}

func waldFeature(featureID core.FeatureID, fitSet *model.FitSet, col int, normal distuv.Normal) *model.TestResult {
	result := &model.TestResult{FeatureID: featureID, DF: 1}

	fitted, ok := fitSet.Model(featureID)
	if !ok {
		if err, recorded := fitSet.Failures[featureID]; recorded {
			result.Failure = err.Error()
		} else {
			result.Failure = core.NumericalError("feature %q has no fit under model %q", featureID, fitSet.Name).Error()
		}
		return result
	}
	result.MeanObs = fitted.MeanObs

	se := math.Sqrt(fitted.CovDiag[col])
	if se == 0 || math.IsNaN(se) || math.IsInf(se, 0) {
		result.Failure = core.NumericalError("coefficient %q has zero standard error for feature %q", fitSet.Design.Columns()[col], featureID).Error()
		return result
	}

	beta := fitted.Coefficients[col]
	z := beta / se
	p := 2 * normal.Survival(math.Abs(z))
	if p > 1 {
		p = 1
	}

	result.Statistic = model.Float(z)
	result.PValue = model.Float(p)
	result.EffectSize = model.Float(beta)
	result.StdErrOrRSS = model.Float(se)
	return result
}
