package tsv

import (
	"context"
	"encoding/csv"
	"os"
	"strings"

	"diffex/domain/core"
	"diffex/domain/experiment"
)

// LoadFeatureTable parses a tab-separated feature annotation table. Required
// column: feature_id. Optional columns: external_name, aggregation_group.
func LoadFeatureTable(path string) (*experiment.FeatureSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.Wrapf(err, "opening feature table %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	records, err := r.ReadAll()
	if err != nil {
		return nil, core.DataError("malformed feature table %q: %v", path, err)
	}
	if len(records) < 2 {
		return nil, core.DataError("feature table %q has no features", path)
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.TrimSpace(h)] = i
	}
	idCol, ok := col["feature_id"]
	if !ok {
		return nil, core.ConfigError("feature table %q is missing the \"feature_id\" column", path)
	}
	nameCol, hasName := col["external_name"]
	groupCol, hasGroup := col["aggregation_group"]

	var features []experiment.Feature
	for i, rec := range records[1:] {
		ft := experiment.Feature{ID: core.FeatureID(strings.TrimSpace(rec[idCol]))}
		if ft.ID == "" {
			return nil, core.DataError("feature table %q row %d has an empty feature id", path, i+2)
		}
		if hasName && nameCol < len(rec) {
			ft.ExternalName = strings.TrimSpace(rec[nameCol])
		}
		if hasGroup && groupCol < len(rec) {
			ft.AggregationGroup = strings.TrimSpace(rec[groupCol])
		}
		features = append(features, ft)
	}
	return experiment.NewFeatureSet(features)
}

// AnnotationTable serves external gene names out of a loaded feature table
type AnnotationTable struct {
	names map[core.FeatureID]string
}

// NewAnnotationTable builds an annotation source from a feature table
func NewAnnotationTable(path string) (*AnnotationTable, error) {
	fs, err := LoadFeatureTable(path)
	if err != nil {
		return nil, err
	}
	names := make(map[core.FeatureID]string, fs.Len())
	for _, id := range fs.IDs() {
		f, _ := fs.ByID(id)
		if f.ExternalName != "" {
			names[id] = f.ExternalName
		}
	}
	return &AnnotationTable{names: names}, nil
}

// ExternalNames returns the known names among the requested ids
func (a *AnnotationTable) ExternalNames(_ context.Context, ids []core.FeatureID) (map[core.FeatureID]string, error) {
	out := make(map[core.FeatureID]string, len(ids))
	for _, id := range ids {
		if name, ok := a.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// FeaturesFromBootstrapTable derives the feature set from the id column of
// one sample's bootstrap table, in file order, when no annotation table is
// available
func FeaturesFromBootstrapTable(path string) (*experiment.FeatureSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.Wrapf(err, "opening bootstrap table %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, core.DataError("malformed bootstrap table %q: %v", path, err)
	}
	if len(records) < 2 {
		return nil, core.DataError("bootstrap table %q has no data rows", path)
	}

	var features []experiment.Feature
	for i, rec := range records[1:] {
		id := core.FeatureID(strings.TrimSpace(rec[0]))
		if id == "" {
			return nil, core.DataError("bootstrap table %q row %d has an empty feature id", path, i+2)
		}
		features = append(features, experiment.Feature{ID: id, ExternalName: string(id)})
	}
	return experiment.NewFeatureSet(features)
}
