package analysis

import (
	"context"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/domain/model"
	"diffex/internal/fdr"
	"diffex/internal/pca"
	"diffex/internal/variance"
	"diffex/ports"
)

// LoadBootstraps pulls bootstrap replicates for every registered sample,
// validates them, reduces them to the observation matrix, and estimates the
// smoothed technical variances. Configuration and data problems surface
// here, before any model is fitted.
func (a *Analysis) LoadBootstraps(ctx context.Context, loader ports.BootstrapLoader) error {
	boots := experiment.NewBootstrapSet()
	for _, sample := range a.registry.Samples() {
		reps, err := loader.Load(ctx, sample)
		if err != nil {
			return core.Wrapf(err, "loading bootstraps for sample %q", sample.ID)
		}
		boots.Add(sample.ID, reps)
	}

	obs, err := boots.PointEstimates(a.registry, a.features)
	if err != nil {
		return err
	}
	logObs := obs.LogTransform(a.cfg.Pseudocount)

	estimator := variance.NewEstimator(a.cfg.TrendBins, a.cfg.TrendWeight, a.cfg.Pseudocount, a.cfg.Workers)
	est, err := estimator.Estimate(ctx, boots, a.registry, a.features, logObs)
	if err != nil {
		return err
	}

	a.boots = boots
	a.obs = obs
	a.logObs = logObs
	a.variances = est
	a.logger.Info("run %s: loaded %d samples x %d features, B=%d bootstrap replicates",
		a.id, a.registry.Len(), a.features.Len(), est.B)
	return nil
}

// Results assembles the exported table for one named test: annotation,
// significance flags under the given thresholds, and ascending p-value
// order. Statistics are read, never recomputed, so reclassification under
// other thresholds is free.
func (a *Analysis) Results(testName string, annotations map[core.FeatureID]string, th fdr.Thresholds) (*model.ResultTable, error) {
	set, ok := a.tests[testName]
	if !ok {
		return nil, core.NotFound("test", testName)
	}
	flags := fdr.Classify(set, th)

	table := &model.ResultTable{TestName: testName}
	for _, featureID := range a.features.IDs() {
		r, ok := set.Results[featureID]
		if !ok {
			continue
		}
		name := ""
		if f, found := a.features.ByID(featureID); found {
			name = f.ExternalName
		}
		if ext, found := annotations[featureID]; found {
			name = ext
		}
		table.Rows = append(table.Rows, model.ResultRow{
			FeatureID:    featureID,
			ExternalName: name,
			EffectSize:   r.EffectSize,
			StdErrOrRSS:  r.StdErrOrRSS,
			PValue:       r.PValue,
			QValue:       r.QValue,
			MeanObs:      r.MeanObs,
			Significant:  flags[featureID],
			Test:         testName,
		})
	}
	table.SortByPValue()
	return table, nil
}

// PCA decomposes the log-transformed observation matrix over a sample
// subset (nil means all samples)
func (a *Analysis) PCA(subset []core.SampleID, opts pca.Options) (*pca.Result, error) {
	if a.logObs == nil {
		return nil, core.DataError("bootstraps are not loaded; no observations for PCA")
	}
	return pca.Compute(a.logObs, subset, opts)
}
