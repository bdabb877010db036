package fdr

import (
	"math"

	"diffex/domain/core"
	"diffex/domain/model"
)

// Thresholds is one significance cutoff pair. Callers keep separate pairs
// for the significant set and the labeled-for-display set.
type Thresholds struct {
	QValue float64 // maximum q-value
	Effect float64 // minimum absolute effect size; 0 disables the cutoff
}

// Significant flags one result against a threshold pair. Pure: an undefined
// q-value is never significant, and nothing on the result is touched.
func Significant(r *model.TestResult, th Thresholds) bool {
	if r == nil || r.QValue == nil {
		return false
	}
	if *r.QValue > th.QValue {
		return false
	}
	if th.Effect > 0 {
		if r.EffectSize == nil {
			return false
		}
		if math.Abs(*r.EffectSize) < th.Effect {
			return false
		}
	}
	return true
}

// Classify flags every result of a test set. The returned map is fresh on
// every call; reclassifying under other thresholds changes only flags, never
// statistics.
func Classify(set *model.TestSet, th Thresholds) map[core.FeatureID]bool {
	flags := make(map[core.FeatureID]bool, len(set.Results))
	for id, r := range set.Results {
		flags[id] = Significant(r, th)
	}
	return flags
}
