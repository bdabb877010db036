// Package fit runs per-feature weighted least-squares regressions against a
// named design matrix.
package fit

import (
	"context"
	"math"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/domain/model"
	"diffex/internal/variance"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// rankTol is the relative tolerance for declaring the weighted design
// rank-deficient
const rankTol = 1e-10

// Fitter fits weighted linear models feature by feature
type Fitter struct {
	workers int
}

// NewFitter creates a model fitter with a bounded worker pool
func NewFitter(workers int) *Fitter {
	if workers < 1 {
		workers = 1
	}
	return &Fitter{workers: workers}
}

// Fit regresses every feature's log observations on the design, weighted by
// the feature's smoothed technical variance. Setup problems (sample order
// mismatch, more terms than samples) abort before any feature is fitted;
// per-feature numerical failures are recorded in the fit set and the batch
// continues.
func (f *Fitter) Fit(
	ctx context.Context,
	name string,
	design *model.DesignMatrix,
	logObs *experiment.ObservationMatrix,
	est *variance.Estimates,
) (*model.FitSet, error) {
	if err := checkAlignment(design, logObs); err != nil {
		return nil, err
	}
	n := design.NumSamples()
	p := design.NumTerms()
	if n <= p {
		return nil, core.ConfigError("design %q has %d terms for %d samples; no residual degrees of freedom", name, p, n)
	}

	featureIDs := logObs.FeatureIDs()
	type outcome struct {
		model model.FittedModel
		err   error
	}
	outcomes := make([]outcome, len(featureIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, featureID := range featureIDs {
		i, featureID := i, featureID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sigma2, ok := est.Smoothed[featureID]
			if !ok || sigma2 <= 0 {
				outcomes[i] = outcome{err: core.NumericalError("feature %q has no positive variance estimate", featureID)}
				return nil
			}
			row, _ := logObs.Row(featureID)
			m, err := fitFeature(featureID, design, row, sigma2)
			outcomes[i] = outcome{model: m, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := model.NewFitSet(name, design)
	for i, featureID := range featureIDs {
		if outcomes[i].err != nil {
			set.Failures[featureID] = outcomes[i].err
			continue
		}
		set.Models[featureID] = outcomes[i].model
	}
	return set, nil
}

// fitFeature solves one weighted least-squares problem through a QR
// decomposition of the weighted design
func fitFeature(featureID core.FeatureID, design *model.DesignMatrix, y []float64, sigma2 float64) (model.FittedModel, error) {
	n := design.NumSamples()
	p := design.NumTerms()

	sum := 0.0
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.FittedModel{}, core.NumericalError("feature %q has undefined observations", featureID)
		}
		sum += v
	}
	meanObs := sum / float64(n)

	// Fold the variance weight into both sides so the solve and the
	// coefficient covariance come out of the same weighted system.
	w := 1.0 / math.Sqrt(sigma2)
	xw := mat.NewDense(n, p, nil)
	xw.Scale(w, design.Matrix())
	yw := mat.NewDense(n, 1, nil)
	for i, v := range y {
		yw.Set(i, 0, w*v)
	}

	var qr mat.QR
	qr.Factorize(xw)

	var r mat.Dense
	qr.RTo(&r)
	maxDiag := 0.0
	for j := 0; j < p; j++ {
		if d := math.Abs(r.At(j, j)); d > maxDiag {
			maxDiag = d
		}
	}
	for j := 0; j < p; j++ {
		if math.Abs(r.At(j, j)) <= rankTol*maxDiag {
			return model.FittedModel{}, core.NumericalError("weighted design is rank-deficient for feature %q (column %q)", featureID, design.Columns()[j])
		}
	}

	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, yw); err != nil {
		return model.FittedModel{}, core.NumericalError("weighted least squares failed for feature %q: %v", featureID, err)
	}

	coefs := make([]float64, p)
	for j := 0; j < p; j++ {
		coefs[j] = beta.At(j, 0)
	}

	fitted := make([]float64, n)
	rss := 0.0
	for i := 0; i < n; i++ {
		fv := 0.0
		for j := 0; j < p; j++ {
			fv += design.Matrix().At(i, j) * coefs[j]
		}
		fitted[i] = fv
		res := w * (y[i] - fv)
		rss += res * res
	}

	covDiag, err := coefficientCovDiag(&r, p)
	if err != nil {
		return model.FittedModel{}, core.NumericalError("coefficient covariance is not computable for feature %q: %v", featureID, err)
	}

	return model.FittedModel{
		FeatureID:    featureID,
		Coefficients: coefs,
		Fitted:       fitted,
		RSS:          rss,
		DF:           n - p,
		Weight:       sigma2,
		CovDiag:      covDiag,
		MeanObs:      meanObs,
	}, nil
}

// coefficientCovDiag computes the diagonal of (Xw'Xw)^-1 from the R factor:
// R^-1 R^-T, so no normal-equation product is ever inverted directly.
func coefficientCovDiag(r *mat.Dense, p int) ([]float64, error) {
	rTop := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			rTop.Set(i, j, r.At(i, j))
		}
	}
	var rInv mat.Dense
	if err := rInv.Inverse(rTop); err != nil {
		return nil, err
	}
	diag := make([]float64, p)
	for j := 0; j < p; j++ {
		s := 0.0
		for k := 0; k < p; k++ {
			v := rInv.At(j, k)
			s += v * v
		}
		diag[j] = s
	}
	return diag, nil
}

// checkAlignment verifies the design rows and observation columns agree in
// identity and order
func checkAlignment(design *model.DesignMatrix, logObs *experiment.ObservationMatrix) error {
	designSamples := design.SampleIDs()
	obsSamples := logObs.SampleIDs()
	if len(designSamples) != len(obsSamples) {
		return core.DataError("design has %d samples but the observation matrix has %d", len(designSamples), len(obsSamples))
	}
	for i, id := range designSamples {
		if !logObs.HasSample(id) {
			return core.DataError("sample %q referenced by the design is absent from the observation matrix", id)
		}
		if obsSamples[i] != id {
			return core.DataError("sample order mismatch at position %d: design %q vs observations %q", i, id, obsSamples[i])
		}
	}
	return nil
}
