package analysis

import (
	"context"
	"testing"

	"diffex/domain/core"
	"diffex/domain/model"
	"diffex/internal/config"
	"diffex/internal/fdr"
	"diffex/internal/pca"
	"diffex/internal/testkit"
)

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		Workers:     2,
		Pseudocount: 0.5,
		TrendBins:   5,
		TrendWeight: 3,
	}
}

func loadedAnalysis(t *testing.T, opts testkit.Options) *Analysis {
	t.Helper()
	exp, err := testkit.Generate(opts)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := New(exp.Registry, exp.Features, engineConfig())
	if err := a.LoadBootstraps(context.Background(), exp.Loader); err != nil {
		t.Fatalf("load bootstraps: %v", err)
	}
	return a
}

// TestLikelihoodRatio_EndToEnd runs the whole pipeline on a fixed-seed
// two-condition experiment with a single shifted feature: the shifted feature
// must come out significant, the unperturbed ones must not
func TestLikelihoodRatio_EndToEnd(t *testing.T) {
	shifted := testkit.FeatureID(0)
	a := loadedAnalysis(t, testkit.Options{
		Features:    30,
		Seed:        1,
		Shifts:      map[core.FeatureID]float64{shifted: 2.0},
		PairedNoise: true,
	})

	full := model.NewFormula(model.Term{Covariate: "condition", Reference: "A"})
	reduced := model.NewFormula()
	if err := a.AddModelPair("full", full, "reduced", reduced); err != nil {
		t.Fatalf("add models: %v", err)
	}
	ctx := context.Background()
	if err := a.Fit(ctx, "full"); err != nil {
		t.Fatalf("fit full: %v", err)
	}
	if err := a.Fit(ctx, "reduced"); err != nil {
		t.Fatalf("fit reduced: %v", err)
	}
	if err := a.LikelihoodRatioTest(ctx, "condition_lrt", "full", "reduced"); err != nil {
		t.Fatalf("lrt: %v", err)
	}

	set, ok := a.TestSet("condition_lrt")
	if !ok {
		t.Fatal("test set not stored under its name")
	}
	if len(set.Results) != 30 {
		t.Fatalf("expected 30 results, got %d", len(set.Results))
	}
	for id, r := range set.Results {
		if !r.Defined() {
			t.Fatalf("feature %s: undefined result (%s)", id, r.Failure)
		}
		if id == shifted {
			if *r.PValue >= 0.05 {
				t.Errorf("shifted feature p = %v, want < 0.05", *r.PValue)
			}
		} else if *r.PValue < 0.05 {
			t.Errorf("unperturbed feature %s p = %v, want >= 0.05", id, *r.PValue)
		}
		if r.QValue == nil {
			t.Errorf("feature %s: missing q-value after correction", id)
		} else if *r.QValue < *r.PValue {
			t.Errorf("feature %s: q=%v below p=%v", id, *r.QValue, *r.PValue)
		}
		if r.MeanObs <= 0 {
			t.Errorf("feature %s: mean observed abundance = %v, want > 0", id, r.MeanObs)
		}
	}
}

// TestResults_TableContract checks the exported table: annotation, ascending
// p-value order, significance flags, and the test identifier on every row
func TestResults_TableContract(t *testing.T) {
	shifted := testkit.FeatureID(4)
	a := loadedAnalysis(t, testkit.Options{
		Features:    20,
		Seed:        2,
		Shifts:      map[core.FeatureID]float64{shifted: 2.5},
		PairedNoise: true,
	})
	ctx := context.Background()
	if err := a.AddModelPair("full",
		model.NewFormula(model.Term{Covariate: "condition", Reference: "A"}),
		"reduced", model.NewFormula()); err != nil {
		t.Fatalf("add models: %v", err)
	}
	for _, name := range []string{"full", "reduced"} {
		if err := a.Fit(ctx, name); err != nil {
			t.Fatalf("fit %s: %v", name, err)
		}
	}
	if err := a.LikelihoodRatioTest(ctx, "condition_lrt", "full", "reduced"); err != nil {
		t.Fatalf("lrt: %v", err)
	}

	annotations := map[core.FeatureID]string{shifted: "HSP90"}
	table, err := a.Results("condition_lrt", annotations, fdr.Thresholds{QValue: 0.05})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(table.Rows) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(table.Rows))
	}

	first := table.Rows[0]
	if first.FeatureID != shifted {
		t.Errorf("first row is %s, want the shifted feature %s", first.FeatureID, shifted)
	}
	if first.ExternalName != "HSP90" {
		t.Errorf("annotation override not applied: external name = %q", first.ExternalName)
	}
	if !first.Significant {
		t.Error("shifted feature not flagged significant at q < 0.05")
	}

	for i, row := range table.Rows {
		if row.Test != "condition_lrt" {
			t.Errorf("row %d: test identifier = %q", i, row.Test)
		}
		if i > 0 && row.PValue != nil && table.Rows[i-1].PValue != nil &&
			*row.PValue < *table.Rows[i-1].PValue {
			t.Errorf("rows not in ascending p-value order at %d", i)
		}
		if row.FeatureID != shifted && row.Significant {
			t.Errorf("unperturbed feature %s flagged significant", row.FeatureID)
		}
		if row.ExternalName == "" {
			t.Errorf("row %d: empty external name", i)
		}
	}
}

// TestWald_EndToEnd exercises the single-coefficient path through the
// analysis context
func TestWald_EndToEnd(t *testing.T) {
	shifted := testkit.FeatureID(1)
	a := loadedAnalysis(t, testkit.Options{
		Features:    15,
		Seed:        6,
		Shifts:      map[core.FeatureID]float64{shifted: 2.0},
		PairedNoise: true,
	})
	ctx := context.Background()
	if err := a.AddModel("full", model.NewFormula(model.Term{Covariate: "condition", Reference: "A"})); err != nil {
		t.Fatalf("add model: %v", err)
	}
	if err := a.Fit(ctx, "full"); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := a.WaldTest(ctx, "condition_wald", "full", "conditionB"); err != nil {
		t.Fatalf("wald: %v", err)
	}

	set, _ := a.TestSet("condition_wald")
	r := set.Results[shifted]
	if r == nil || !r.Defined() {
		t.Fatalf("shifted feature has no defined Wald result: %+v", r)
	}
	if *r.PValue >= 0.05 {
		t.Errorf("shifted feature Wald p = %v, want < 0.05", *r.PValue)
	}
	if *r.EffectSize <= 1.0 {
		t.Errorf("effect size = %v, want a large positive shift", *r.EffectSize)
	}
	if set.Kind != model.TestWald {
		t.Errorf("test kind = %q, want %q", set.Kind, model.TestWald)
	}
}

// TestFit_RequiresLoadedBootstraps is the pre-fit data error path
func TestFit_RequiresLoadedBootstraps(t *testing.T) {
	exp, err := testkit.Generate(testkit.Options{Features: 5, Seed: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := New(exp.Registry, exp.Features, engineConfig())
	if err := a.AddModel("full", model.NewFormula(model.Term{Covariate: "condition", Reference: "A"})); err != nil {
		t.Fatalf("add model: %v", err)
	}

	err = a.Fit(context.Background(), "full")
	if err == nil || !core.IsCode(err, core.CodeDataError) {
		t.Fatalf("expected data error before bootstrap loading, got %v", err)
	}
}

// TestNamedLookups_NotFound covers the missing-name error paths
func TestNamedLookups_NotFound(t *testing.T) {
	a := loadedAnalysis(t, testkit.Options{Features: 5, Seed: 3})
	ctx := context.Background()

	if err := a.Fit(ctx, "ghost"); err == nil || !core.IsCode(err, core.CodeNotFound) {
		t.Errorf("fit of unknown model: %v, want not-found", err)
	}
	if err := a.LikelihoodRatioTest(ctx, "t", "ghost", "ghost"); err == nil || !core.IsCode(err, core.CodeNotFound) {
		t.Errorf("lrt of unknown fits: %v, want not-found", err)
	}
	if err := a.WaldTest(ctx, "t", "ghost", "conditionB"); err == nil || !core.IsCode(err, core.CodeNotFound) {
		t.Errorf("wald of unknown fit: %v, want not-found", err)
	}
	if _, err := a.Results("ghost", nil, fdr.Thresholds{}); err == nil || !core.IsCode(err, core.CodeNotFound) {
		t.Errorf("results of unknown test: %v, want not-found", err)
	}
}

// TestAddModel_ReplacesAndDropsStaleFit verifies name-reuse semantics: a new
// design under an old name replaces it and invalidates its fit
func TestAddModel_ReplacesAndDropsStaleFit(t *testing.T) {
	a := loadedAnalysis(t, testkit.Options{Features: 5, Seed: 4})
	ctx := context.Background()

	if err := a.AddModel("m", model.NewFormula(model.Term{Covariate: "condition", Reference: "A"})); err != nil {
		t.Fatalf("add model: %v", err)
	}
	if err := a.Fit(ctx, "m"); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, ok := a.FitSet("m"); !ok {
		t.Fatal("fit set missing after Fit")
	}

	if err := a.AddModel("m", model.NewFormula()); err != nil {
		t.Fatalf("re-add model: %v", err)
	}
	if _, ok := a.FitSet("m"); ok {
		t.Error("stale fit survived model replacement")
	}
	d, ok := a.Design("m")
	if !ok || d.NumTerms() != 1 {
		t.Errorf("replaced design has %d terms, want 1 (intercept only)", d.NumTerms())
	}

	if err := a.Fit(ctx, "m"); err != nil {
		t.Fatalf("refit: %v", err)
	}
	fs, _ := a.FitSet("m")
	if len(fs.Models) != 5 {
		t.Errorf("refit produced %d models, want 5", len(fs.Models))
	}
}

// TestPCA_ThroughContext routes QC decomposition through the loaded matrix
func TestPCA_ThroughContext(t *testing.T) {
	a := loadedAnalysis(t, testkit.Options{Features: 20, Seed: 8})

	res, err := a.PCA(nil, pca.Options{})
	if err != nil {
		t.Fatalf("pca: %v", err)
	}
	if len(res.SampleIDs) != a.Registry().Len() {
		t.Errorf("PCA covered %d samples, want %d", len(res.SampleIDs), a.Registry().Len())
	}

	unloaded := New(a.Registry(), a.Features(), engineConfig())
	if _, err := unloaded.PCA(nil, pca.Options{}); err == nil || !core.IsCode(err, core.CodeDataError) {
		t.Errorf("PCA before loading: %v, want data error", err)
	}
}
