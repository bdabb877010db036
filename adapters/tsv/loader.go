// Package tsv loads experiment inputs from delimited files: a CSV sample
// sheet describing the design and one bootstrap table per sample.
package tsv

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"diffex/domain/core"
	"diffex/domain/experiment"
)

// Loader reads bootstrap replicates from each sample's BootstrapPath. The
// expected layout is a tab-separated table with a header row: the first
// column is the feature id, every further column one bootstrap replicate.
type Loader struct{}

// NewLoader creates a file-backed bootstrap loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses the bootstrap table of one sample
func (l *Loader) Load(ctx context.Context, sample experiment.Sample) (map[core.FeatureID][]float64, error) {
	if sample.BootstrapPath == "" {
		return nil, core.ConfigError("sample %q has no bootstrap path", sample.ID)
	}
	f, err := os.Open(sample.BootstrapPath)
	if err != nil {
		return nil, core.Wrapf(err, "opening bootstrap table for sample %q", sample.ID)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, core.DataError("malformed bootstrap table %q: %v", sample.BootstrapPath, err)
	}
	if len(records) < 2 {
		return nil, core.DataError("bootstrap table %q has no data rows", sample.BootstrapPath)
	}

	header := records[0]
	if len(header) < 2 {
		return nil, core.DataError("bootstrap table %q needs a feature column and at least one replicate column", sample.BootstrapPath)
	}
	width := len(header)

	out := make(map[core.FeatureID][]float64, len(records)-1)
	for i, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(rec) != width {
			return nil, core.DataError("bootstrap table %q row %d has %d columns, header has %d",
				sample.BootstrapPath, i+2, len(rec), width)
		}
		id := core.FeatureID(strings.TrimSpace(rec[0]))
		if id == "" {
			return nil, core.DataError("bootstrap table %q row %d has an empty feature id", sample.BootstrapPath, i+2)
		}
		if _, dup := out[id]; dup {
			return nil, core.DataError("bootstrap table %q repeats feature %q", sample.BootstrapPath, id)
		}
		reps := make([]float64, width-1)
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, core.DataError("bootstrap table %q row %d column %d: %q is not a number",
					sample.BootstrapPath, i+2, j+2, field)
			}
			reps[j] = v
		}
		out[id] = reps
	}
	return out, nil
}

// sample sheet column names with fixed meaning; everything else becomes a
// covariate keyed by its header
const (
	sheetColSample    = "sample_id"
	sheetColCondition = "condition"
	sheetColPath      = "bootstrap_path"
)

// LoadSampleSheet parses a CSV sample sheet into a registry. Required
// columns: sample_id, condition, bootstrap_path. Any further column is
// carried as a covariate under its header name.
func LoadSampleSheet(path string) (*experiment.SampleRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.Wrapf(err, "opening sample sheet %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, core.DataError("malformed sample sheet %q: %v", path, err)
	}
	if len(records) < 2 {
		return nil, core.DataError("sample sheet %q has no samples", path)
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{sheetColSample, sheetColCondition, sheetColPath} {
		if _, ok := col[required]; !ok {
			return nil, core.ConfigError("sample sheet %q is missing the %q column", path, required)
		}
	}

	var samples []experiment.Sample
	for i, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, core.DataError("sample sheet %q row %d has %d columns, header has %d",
				path, i+2, len(rec), len(header))
		}
		s := experiment.Sample{
			ID:            core.SampleID(strings.TrimSpace(rec[col[sheetColSample]])),
			Condition:     strings.TrimSpace(rec[col[sheetColCondition]]),
			BootstrapPath: strings.TrimSpace(rec[col[sheetColPath]]),
			Covariates:    make(map[string]string),
		}
		if s.ID == "" {
			return nil, core.DataError("sample sheet %q row %d has an empty sample id", path, i+2)
		}
		if s.Condition == "" {
			return nil, core.DataError("sample sheet %q row %d has an empty condition", path, i+2)
		}
		for name, idx := range col {
			switch name {
			case sheetColSample, sheetColCondition, sheetColPath:
			default:
				s.Covariates[name] = strings.TrimSpace(rec[idx])
			}
		}
		samples = append(samples, s)
	}
	return experiment.NewSampleRegistry(samples)
}
