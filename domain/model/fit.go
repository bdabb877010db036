package model

import (
	"diffex/domain/core"
)

// FittedModel holds the weighted least-squares fit of one feature against
// one named design.
type FittedModel struct {
	FeatureID    core.FeatureID `json:"feature_id"`
	Coefficients []float64      `json:"coefficients"` // aligned to the design's columns
	Fitted       []float64      `json:"fitted"`       // aligned to the design's sample order
	RSS          float64        `json:"rss"`          // weighted residual sum of squares
	DF           int            `json:"df"`           // samples minus terms
	Weight       float64        `json:"weight"`       // smoothed technical variance used as 1/weight
	CovDiag      []float64      `json:"cov_diag"`     // diagonal of the coefficient covariance
	MeanObs      float64        `json:"mean_obs"`     // mean observed value over the fit's samples
}

// FitSet is the result of fitting one named design across all features.
// Refitting under the same name replaces the whole set.
type FitSet struct {
	Name     string
	Design   *DesignMatrix
	Models   map[core.FeatureID]FittedModel
	Failures map[core.FeatureID]error
}

// NewFitSet creates an empty fit set for a named design
func NewFitSet(name string, design *DesignMatrix) *FitSet {
	return &FitSet{
		Name:     name,
		Design:   design,
		Models:   make(map[core.FeatureID]FittedModel),
		Failures: make(map[core.FeatureID]error),
	}
}

// Model returns the fitted model for a feature, if the fit succeeded
func (fs *FitSet) Model(id core.FeatureID) (FittedModel, bool) {
	m, ok := fs.Models[id]
	return m, ok
}
