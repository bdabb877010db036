// Package analysis owns the per-run context: the sample and feature sets,
// the observation matrix, the variance estimates, and the named model fits
// and hypothesis tests. All state is explicit on the Analysis object; there
// is no package-level accumulation.
package analysis

import (
	"context"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/domain/model"
	"diffex/internal"
	"diffex/internal/config"
	"diffex/internal/design"
	"diffex/internal/fdr"
	"diffex/internal/fit"
	"diffex/internal/infer"
	"diffex/internal/variance"
)

// Analysis is one differential-abundance run. Fits and tests are keyed by
// caller-chosen names; reusing a name replaces the prior entry.
type Analysis struct {
	id       core.RunID
	cfg      config.EngineConfig
	registry *experiment.SampleRegistry
	features *experiment.FeatureSet

	boots     *experiment.BootstrapSet
	obs       *experiment.ObservationMatrix // point estimates (abundance scale)
	logObs    *experiment.ObservationMatrix // log-transformed observations
	variances *variance.Estimates

	builder *design.Builder
	fitter  *fit.Fitter
	tester  *infer.Tester

	designs map[string]*model.DesignMatrix
	fits    map[string]*model.FitSet
	tests   map[string]*model.TestSet

	logger *internal.Logger
}

// New creates an analysis context over an immutable sample registry and
// feature set
func New(registry *experiment.SampleRegistry, features *experiment.FeatureSet, cfg config.EngineConfig) *Analysis {
	return &Analysis{
		id:       core.NewRunID(),
		cfg:      cfg,
		registry: registry,
		features: features,
		builder:  design.NewBuilder(registry),
		fitter:   fit.NewFitter(cfg.Workers),
		tester:   infer.NewTester(cfg.Workers),
		designs:  make(map[string]*model.DesignMatrix),
		fits:     make(map[string]*model.FitSet),
		tests:    make(map[string]*model.TestSet),
		logger:   internal.DefaultLogger,
	}
}

// ID returns the run identifier
func (a *Analysis) ID() core.RunID {
	return a.id
}

// Registry returns the sample registry
func (a *Analysis) Registry() *experiment.SampleRegistry {
	return a.registry
}

// Features returns the feature set
func (a *Analysis) Features() *experiment.FeatureSet {
	return a.features
}

// Observations returns the point-estimate matrix, available after bootstrap
// loading
func (a *Analysis) Observations() *experiment.ObservationMatrix {
	return a.obs
}

// Variances returns the smoothed variance estimates, available after
// bootstrap loading
func (a *Analysis) Variances() *variance.Estimates {
	return a.variances
}

// AddModel resolves a formula into a named design matrix. Replaces any
// prior design under the same name and drops a stale fit of that name.
func (a *Analysis) AddModel(name string, formula model.Formula) error {
	d, err := a.builder.Build(formula, a.registry.IDs())
	if err != nil {
		return err
	}
	a.designs[name] = d
	delete(a.fits, name)
	a.logger.Debug("model %q: %d samples x %d terms", name, d.NumSamples(), d.NumTerms())
	return nil
}

// AddModelPair resolves a full/reduced formula pair under the conventional
// names, validating nesting structurally first
func (a *Analysis) AddModelPair(fullName string, full model.Formula, reducedName string, reduced model.Formula) error {
	fullDesign, reducedDesign, err := a.builder.BuildPair(full, reduced, a.registry.IDs())
	if err != nil {
		return err
	}
	a.designs[fullName] = fullDesign
	a.designs[reducedName] = reducedDesign
	delete(a.fits, fullName)
	delete(a.fits, reducedName)
	return nil
}

// Design returns a named design matrix
func (a *Analysis) Design(name string) (*model.DesignMatrix, bool) {
	d, ok := a.designs[name]
	return d, ok
}

// Fit fits the named design across all features. The prior fit set under
// this name, if any, is replaced wholesale.
func (a *Analysis) Fit(ctx context.Context, name string) error {
	d, ok := a.designs[name]
	if !ok {
		return core.NotFound("model", name)
	}
	if a.logObs == nil || a.variances == nil {
		return core.DataError("bootstraps are not loaded; nothing to fit for model %q", name)
	}
	set, err := a.fitter.Fit(ctx, name, d, a.logObs, a.variances)
	if err != nil {
		return err
	}
	a.fits[name] = set
	a.logger.Info("fit %q: %d features fitted, %d failed", name, len(set.Models), len(set.Failures))
	return nil
}

// FitSet returns a named fit set
func (a *Analysis) FitSet(name string) (*model.FitSet, bool) {
	fs, ok := a.fits[name]
	return fs, ok
}

// LikelihoodRatioTest runs an LRT of the named full fit against the named
// reduced fit and stores the corrected results under testName
func (a *Analysis) LikelihoodRatioTest(ctx context.Context, testName, fullName, reducedName string) error {
	full, ok := a.fits[fullName]
	if !ok {
		return core.NotFound("fitted model", fullName)
	}
	reduced, ok := a.fits[reducedName]
	if !ok {
		return core.NotFound("fitted model", reducedName)
	}
	set, err := a.tester.LikelihoodRatio(ctx, testName, full, reduced)
	if err != nil {
		return err
	}
	fdr.Apply(set)
	a.tests[testName] = set
	a.logger.Info("test %q (lrt %s vs %s): %d results", testName, fullName, reducedName, len(set.Results))
	return nil
}

// WaldTest runs a Wald test of one coefficient of the named fit and stores
// the corrected results under testName
func (a *Analysis) WaldTest(ctx context.Context, testName, modelName, coefficient string) error {
	fs, ok := a.fits[modelName]
	if !ok {
		return core.NotFound("fitted model", modelName)
	}
	set, err := a.tester.Wald(ctx, testName, fs, coefficient)
	if err != nil {
		return err
	}
	fdr.Apply(set)
	a.tests[testName] = set
	a.logger.Info("test %q (wald %s on %q): %d results", testName, modelName, coefficient, len(set.Results))
	return nil
}

// TestSet returns a named test set
func (a *Analysis) TestSet(name string) (*model.TestSet, bool) {
	ts, ok := a.tests[name]
	return ts, ok
}
