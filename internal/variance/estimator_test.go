package variance

import (
	"context"
	"math"
	"testing"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/internal/testkit"
)

func loadSet(t *testing.T, exp *testkit.Experiment) *experiment.BootstrapSet {
	t.Helper()
	boots := experiment.NewBootstrapSet()
	for _, s := range exp.Registry.Samples() {
		reps, err := exp.Loader.Load(context.Background(), s)
		if err != nil {
			t.Fatalf("load %s: %v", s.ID, err)
		}
		boots.Add(s.ID, reps)
	}
	return boots
}

// TestEstimate_ZeroVarianceFeatureFloored covers the degenerate-variance
// path: a feature with identical bootstrap replicates in every sample gets
// the smallest nonzero raw variance, never an unusable zero
func TestEstimate_ZeroVarianceFeatureFloored(t *testing.T) {
	flat := testkit.FeatureID(0)
	exp, err := testkit.Generate(testkit.Options{
		Features:     20,
		Seed:         42,
		ZeroVariance: map[core.FeatureID]bool{flat: true},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	boots := loadSet(t, exp)
	obs, err := boots.PointEstimates(exp.Registry, exp.Features)
	if err != nil {
		t.Fatalf("point estimates: %v", err)
	}
	logObs := obs.LogTransform(0.5)

	est := NewEstimator(5, 3, 0.5, 4)
	out, err := est.Estimate(context.Background(), boots, exp.Registry, exp.Features, logObs)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	if out.Raw[flat] != 0 {
		t.Errorf("raw variance of the flat feature = %v, want 0", out.Raw[flat])
	}
	if out.Floor <= 0 {
		t.Fatalf("floor = %v, want > 0", out.Floor)
	}
	if out.Smoothed[flat] != out.Floor {
		t.Errorf("smoothed variance of the flat feature = %v, want the floor %v", out.Smoothed[flat], out.Floor)
	}
	for id, v := range out.Smoothed {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("feature %s: smoothed variance %v is not strictly positive and finite", id, v)
		}
	}
}

// TestEstimate_ShrinkageStaysNearRawScale sanity-checks that smoothing
// keeps estimates between the raw value and the trend rather than inventing
// variance
func TestEstimate_ShrinkageStaysNearRawScale(t *testing.T) {
	exp, err := testkit.Generate(testkit.Options{Features: 30, Seed: 7, BootstrapSD: 0.2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	boots := loadSet(t, exp)
	obs, _ := boots.PointEstimates(exp.Registry, exp.Features)
	logObs := obs.LogTransform(0.5)

	out, err := NewEstimator(5, 3, 0.5, 2).Estimate(context.Background(), boots, exp.Registry, exp.Features, logObs)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}

	var maxRaw float64
	for _, v := range out.Raw {
		if v > maxRaw {
			maxRaw = v
		}
	}
	for id, v := range out.Smoothed {
		if v > maxRaw {
			t.Errorf("feature %s: smoothed variance %v above the largest raw variance %v", id, v, maxRaw)
		}
	}
}

// TestEstimate_InconsistentReplicateCounts verifies the up-front data error
// when B differs across samples for one feature
func TestEstimate_InconsistentReplicateCounts(t *testing.T) {
	reg, err := experiment.NewSampleRegistry([]experiment.Sample{
		{ID: "s1", Condition: "A"},
		{ID: "s2", Condition: "B"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	features, err := experiment.NewFeatureSet([]experiment.Feature{{ID: "f1"}})
	if err != nil {
		t.Fatalf("features: %v", err)
	}

	boots := experiment.NewBootstrapSet()
	boots.Add("s1", map[core.FeatureID][]float64{"f1": {1, 2, 3}})
	boots.Add("s2", map[core.FeatureID][]float64{"f1": {1, 2, 3, 4}})

	obs, _ := experiment.NewObservationMatrix(
		[]core.FeatureID{"f1"},
		[]core.SampleID{"s1", "s2"},
		[][]float64{{2, 2.5}},
	)

	_, err = NewEstimator(5, 3, 0.5, 1).Estimate(context.Background(), boots, reg, features, obs)
	if err == nil {
		t.Fatal("expected data error for inconsistent replicate counts")
	}
	if !core.IsCode(err, core.CodeDataError) {
		t.Errorf("error code = %s, want %s", core.GetCode(err), core.CodeDataError)
	}
}

// TestEstimate_SingleReplicateRejected requires at least two bootstrap
// replicates
func TestEstimate_SingleReplicateRejected(t *testing.T) {
	reg, _ := experiment.NewSampleRegistry([]experiment.Sample{{ID: "s1", Condition: "A"}})
	features, _ := experiment.NewFeatureSet([]experiment.Feature{{ID: "f1"}})
	boots := experiment.NewBootstrapSet()
	boots.Add("s1", map[core.FeatureID][]float64{"f1": {1}})
	obs, _ := experiment.NewObservationMatrix([]core.FeatureID{"f1"}, []core.SampleID{"s1"}, [][]float64{{1}})

	_, err := NewEstimator(5, 3, 0.5, 1).Estimate(context.Background(), boots, reg, features, obs)
	if err == nil || !core.IsCode(err, core.CodeDataError) {
		t.Fatalf("expected data error for B=1, got %v", err)
	}
}
