package ports

import (
	"context"

	"diffex/domain/core"
	"diffex/domain/model"
)

// RunRecord describes one persisted analysis run
type RunRecord struct {
	ID          core.RunID `db:"id"`
	Description string     `db:"description"`
}

// ResultRepository persists result tables under their run id. Column names
// follow the result table contract.
type ResultRepository interface {
	CreateRun(ctx context.Context, run RunRecord) error
	SaveResults(ctx context.Context, runID core.RunID, table *model.ResultTable) error
	ResultsByRun(ctx context.Context, runID core.RunID, testName string) (*model.ResultTable, error)
}
