package tsv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffex/domain/core"
	"diffex/domain/experiment"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesBootstrapTable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s1.tsv",
		"feature_id\tbs1\tbs2\tbs3\n"+
			"tx0001\t10.5\t11.0\t9.8\n"+
			"tx0002\t0\t0.1\t0\n")

	reps, err := NewLoader().Load(context.Background(), experiment.Sample{ID: "s1", BootstrapPath: path})
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, []float64{10.5, 11.0, 9.8}, reps["tx0001"])
	assert.Equal(t, []float64{0, 0.1, 0}, reps["tx0002"])
}

func TestLoad_RejectsRaggedAndBadRows(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	cases := []struct {
		name    string
		content string
	}{
		{"ragged", "feature_id\tbs1\tbs2\ntx0001\t1.0\n"},
		{"non-numeric", "feature_id\tbs1\ntx0001\tabundant\n"},
		{"duplicate feature", "feature_id\tbs1\ntx0001\t1\ntx0001\t2\n"},
		{"empty feature id", "feature_id\tbs1\n\t1\n"},
		{"no data rows", "feature_id\tbs1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, tc.name+".tsv", tc.content)
			_, err := loader.Load(context.Background(), experiment.Sample{ID: "s1", BootstrapPath: path})
			require.Error(t, err)
			assert.True(t, core.IsCode(err, core.CodeDataError), "got %v, want a data error", err)
		})
	}
}

func TestLoad_MissingPathIsConfigError(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), experiment.Sample{ID: "s1"})
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeConfigInvalid))
}

func TestLoadSampleSheet_CovariateColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "samples.csv",
		"sample_id,condition,bootstrap_path,genotype,temperature\n"+
			"a1,A,/data/a1.tsv,wt,22\n"+
			"b1,B,/data/b1.tsv,mut,30\n")

	reg, err := LoadSampleSheet(path)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	s, ok := reg.ByID("b1")
	require.True(t, ok)
	assert.Equal(t, "B", s.Condition)
	assert.Equal(t, "/data/b1.tsv", s.BootstrapPath)
	assert.Equal(t, "mut", s.Covariates["genotype"])
	assert.Equal(t, "30", s.Covariates["temperature"])
}

func TestLoadSampleSheet_MissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "samples.csv",
		"sample_id,bootstrap_path\na1,/data/a1.tsv\n")

	_, err := LoadSampleSheet(path)
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeConfigInvalid))
	assert.Contains(t, err.Error(), "condition")
}

func TestLoadFeatureTable_AnnotationColumns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "features.tsv",
		"feature_id\texternal_name\taggregation_group\n"+
			"tx0001\tHSP90\tENSG0001\n"+
			"tx0002\t\tENSG0001\n")

	fs, err := LoadFeatureTable(path)
	require.NoError(t, err)
	require.Equal(t, 2, fs.Len())

	f, ok := fs.ByID("tx0001")
	require.True(t, ok)
	assert.Equal(t, "HSP90", f.ExternalName)
	assert.Equal(t, "ENSG0001", f.AggregationGroup)
}

func TestAnnotationTable_LooksUpKnownNames(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "features.tsv",
		"feature_id\texternal_name\n"+
			"tx0001\tHSP90\n"+
			"tx0002\t\n")

	src, err := NewAnnotationTable(path)
	require.NoError(t, err)

	names, err := src.ExternalNames(context.Background(), []core.FeatureID{"tx0001", "tx0002", "tx0003"})
	require.NoError(t, err)
	assert.Equal(t, map[core.FeatureID]string{"tx0001": "HSP90"}, names)
}

func TestFeaturesFromBootstrapTable_FileOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "s1.tsv",
		"feature_id\tbs1\n"+
			"tx0002\t1\n"+
			"tx0001\t2\n")

	fs, err := FeaturesFromBootstrapTable(path)
	require.NoError(t, err)
	assert.Equal(t, []core.FeatureID{"tx0002", "tx0001"}, fs.IDs())
}
