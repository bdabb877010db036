package ports

import (
	"context"

	"diffex/domain/core"
	"diffex/domain/experiment"
)

// BootstrapLoader supplies per-sample bootstrap abundance replicates from
// whatever quantification output the surrounding tooling produced. Loading
// must complete before variance estimation starts; the engine never touches
// files itself.
type BootstrapLoader interface {
	// Load returns the replicate vectors for one sample, keyed by feature id.
	// Every vector for one analysis must carry the same replicate count B.
	Load(ctx context.Context, sample experiment.Sample) (map[core.FeatureID][]float64, error)
}
