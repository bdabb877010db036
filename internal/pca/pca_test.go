package pca

import (
	"context"
	"math"
	"testing"

	"diffex/domain/core"
	"diffex/domain/experiment"
	"diffex/internal/testkit"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func syntheticLogMatrix(t *testing.T, opts testkit.Options) (*experiment.ObservationMatrix, *experiment.SampleRegistry) {
	t.Helper()
	exp, err := testkit.Generate(opts)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	boots := experiment.NewBootstrapSet()
	for _, s := range exp.Registry.Samples() {
		reps, err := exp.Loader.Load(context.Background(), s)
		if err != nil {
			t.Fatalf("load %s: %v", s.ID, err)
		}
		boots.Add(s.ID, reps)
	}
	obs, err := boots.PointEstimates(exp.Registry, exp.Features)
	if err != nil {
		t.Fatalf("point estimates: %v", err)
	}
	return obs.LogTransform(0.5), exp.Registry
}

func welchP(a, b []float64) float64 {
	ma, va := stat.Mean(a, nil), stat.Variance(a, nil)
	mb, vb := stat.Mean(b, nil), stat.Variance(b, nil)
	na, nb := float64(len(a)), float64(len(b))
	se2 := va/na + vb/nb
	tstat := (ma - mb) / math.Sqrt(se2)
	df := se2 * se2 / ((va/na)*(va/na)/(na-1) + (vb/nb)*(vb/nb)/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(tstat))
}

// TestCompute_FirstComponentSeparatesConditions injects a large shift into a
// block of features and expects the dominant component to split the two
// condition groups. Component sign is arbitrary, so the check is two-sided.
func TestCompute_FirstComponentSeparatesConditions(t *testing.T) {
	shifts := make(map[core.FeatureID]float64)
	for i := 0; i < 10; i++ {
		shifts[testkit.FeatureID(i)] = 2.0
	}
	logObs, reg := syntheticLogMatrix(t, testkit.Options{
		Features: 40,
		Seed:     3,
		Shifts:   shifts,
	})

	res, err := Compute(logObs, nil, Options{})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	var scoresA, scoresB []float64
	for i, id := range res.SampleIDs {
		cond, _ := reg.ConditionOf(id)
		if cond == "A" {
			scoresA = append(scoresA, res.Score(i, 0))
		} else {
			scoresB = append(scoresB, res.Score(i, 0))
		}
	}
	if len(scoresA) != 3 || len(scoresB) != 3 {
		t.Fatalf("expected 3 samples per condition, got %d/%d", len(scoresA), len(scoresB))
	}

	if p := welchP(scoresA, scoresB); p >= 0.01 {
		t.Errorf("Welch p on first-component scores = %v, want < 0.01", p)
	}
	if res.Explained[0] <= res.Explained[1] {
		t.Errorf("component 1 explains %v, component 2 explains %v; want descending",
			res.Explained[0], res.Explained[1])
	}
	if res.Explained[0] < 0.5 {
		t.Errorf("component 1 explains %v of the variance; a 10-feature shift should dominate", res.Explained[0])
	}
}

// TestCompute_ExplainedProportionsValid sanity-checks the variance accounting
func TestCompute_ExplainedProportionsValid(t *testing.T) {
	logObs, _ := syntheticLogMatrix(t, testkit.Options{Features: 25, Seed: 9})

	res, err := Compute(logObs, nil, Options{Components: []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	total := 0.0
	for k, e := range res.Explained {
		if e <= 0 || e > 1 {
			t.Errorf("component %d: explained proportion %v out of (0,1]", res.Components[k], e)
		}
		total += e
	}
	if total > 1+1e-9 {
		t.Errorf("explained proportions sum to %v, want <= 1", total)
	}
}

// TestCompute_DropsIncompleteFeatures keeps PCA usable when some rows carry
// undefined entries
func TestCompute_DropsIncompleteFeatures(t *testing.T) {
	obs, err := experiment.NewObservationMatrix(
		[]core.FeatureID{"f1", "f2", "f3"},
		[]core.SampleID{"s1", "s2", "s3"},
		[][]float64{
			{1.0, 2.0, 3.0},
			{2.0, math.NaN(), 1.0},
			{0.5, 1.5, 2.5},
		},
	)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}

	res, err := Compute(obs, nil, Options{Components: []int{1}})
	if err != nil {
		t.Fatalf("compute should succeed on the two complete rows: %v", err)
	}
	if len(res.Scores) != 3 {
		t.Errorf("expected scores for all 3 samples, got %d", len(res.Scores))
	}
}

// TestCompute_TooFewCompleteFeatures degrades to a data error once fewer than
// two complete rows remain
func TestCompute_TooFewCompleteFeatures(t *testing.T) {
	obs, _ := experiment.NewObservationMatrix(
		[]core.FeatureID{"f1", "f2"},
		[]core.SampleID{"s1", "s2"},
		[][]float64{
			{1.0, 2.0},
			{math.NaN(), 1.0},
		},
	)

	_, err := Compute(obs, nil, Options{})
	if err == nil || !core.IsCode(err, core.CodeDataError) {
		t.Fatalf("expected data error for a single complete feature, got %v", err)
	}
}

// TestCompute_SampleSubset restricts the decomposition to named samples
func TestCompute_SampleSubset(t *testing.T) {
	logObs, reg := syntheticLogMatrix(t, testkit.Options{Features: 20, Seed: 5})
	subset := reg.IDs()[:4]

	res, err := Compute(logObs, subset, Options{Components: []int{1}})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(res.SampleIDs) != 4 || len(res.Scores) != 4 {
		t.Errorf("expected 4 samples in the result, got %d ids / %d score rows",
			len(res.SampleIDs), len(res.Scores))
	}

	_, err = Compute(logObs, []core.SampleID{"A_rep1", "ghost"}, Options{})
	if err == nil || !core.IsCode(err, core.CodeDataError) {
		t.Fatalf("expected data error for an unknown sample, got %v", err)
	}
}

// TestCompute_ComponentOutOfRange rejects component indices past the rank
func TestCompute_ComponentOutOfRange(t *testing.T) {
	logObs, _ := syntheticLogMatrix(t, testkit.Options{Features: 20, Seed: 5})

	_, err := Compute(logObs, nil, Options{Components: []int{40}})
	if err == nil || !core.IsCode(err, core.CodeConfigInvalid) {
		t.Fatalf("expected configuration error for out-of-range component, got %v", err)
	}
}
