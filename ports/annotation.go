package ports

import (
	"context"

	"diffex/domain/core"
)

// AnnotationSource maps feature ids to external gene names for reporting.
// The lookup (typically a remote annotation database) lives outside the
// engine; results are consumed as a plain map.
type AnnotationSource interface {
	ExternalNames(ctx context.Context, ids []core.FeatureID) (map[core.FeatureID]string, error)
}
