package model

import (
	"diffex/domain/core"
)

// Term is one covariate entry of a model formula. A term with a Reference
// level is treated as categorical and dummy-encoded against that reference;
// a term without one is parsed as numeric. Terms are typed and ordered, so
// no string expression is ever evaluated at runtime.
type Term struct {
	Covariate string `json:"covariate"`
	Reference string `json:"reference,omitempty"`
}

// Categorical reports whether the term is dummy-encoded
func (t Term) Categorical() bool {
	return t.Reference != ""
}

// Formula is an ordered list of covariate terms plus an intercept flag
type Formula struct {
	Intercept bool   `json:"intercept"`
	Terms     []Term `json:"terms"`
}

// NewFormula builds a formula with an intercept over the given terms
func NewFormula(terms ...Term) Formula {
	return Formula{Intercept: true, Terms: terms}
}

// TermNames returns the covariate names in formula order
func (f Formula) TermNames() []string {
	names := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		names[i] = t.Covariate
	}
	return names
}

// HasTerm reports whether the formula contains a covariate term
func (f Formula) HasTerm(covariate string) bool {
	for _, t := range f.Terms {
		if t.Covariate == covariate {
			return true
		}
	}
	return false
}

// ValidateNested checks structurally that reduced is a nested submodel of
// full: every reduced term must appear in the full formula, and a reduced
// intercept requires a full intercept. The check is over term identity, not
// numerical column spaces.
func ValidateNested(full, reduced Formula) error {
	if reduced.Intercept && !full.Intercept {
		return core.ConfigError("reduced model has an intercept absent from the full model")
	}
	for _, t := range reduced.Terms {
		if !full.HasTerm(t.Covariate) {
			return core.ConfigError("reduced model term %q is not part of the full model", t.Covariate)
		}
	}
	if len(reduced.Terms) >= len(full.Terms) && reduced.Intercept == full.Intercept {
		return core.ConfigError("reduced model is not a strict submodel of the full model")
	}
	return nil
}
