// Package fdr applies Benjamini-Hochberg false-discovery-rate correction and
// threshold-based significance classification.
package fdr

import (
	"sort"

	"diffex/domain/core"
	"diffex/domain/model"
)

// Apply fills q-values into a test set using the Benjamini-Hochberg step-up
// procedure. Only features with a defined p-value enter the correction;
// undefined results keep an undefined q-value so downstream consumers can
// tell "not significant" from "untestable". Deterministic: ties and order
// never depend on map iteration.
func Apply(set *model.TestSet) {
	type entry struct {
		id core.FeatureID
		p  float64
	}
	var entries []entry
	for id, r := range set.Results {
		if r.Defined() {
			entries = append(entries, entry{id: id, p: *r.PValue})
		}
	}
	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].p != entries[j].p {
			return entries[i].p < entries[j].p
		}
		return entries[i].id < entries[j].id
	})

	n := float64(len(entries))
	q := make([]float64, len(entries))
	for i, e := range entries {
		q[i] = e.p * n / float64(i+1)
	}
	// Enforce monotonicity from the largest rank down.
	for i := len(q) - 2; i >= 0; i-- {
		if q[i+1] < q[i] {
			q[i] = q[i+1]
		}
	}
	for i, e := range entries {
		v := q[i]
		if v > 1 {
			v = 1
		}
		// BH never adjusts below the raw p-value.
		if v < e.p {
			v = e.p
		}
		set.Results[e.id].QValue = model.Float(v)
	}
}
