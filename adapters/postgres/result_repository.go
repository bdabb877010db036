// Package postgres persists analysis runs and result tables.
package postgres

import (
	"context"
	"fmt"

	"diffex/domain/core"
	"diffex/domain/model"
	"diffex/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// resultRepository implements the ResultRepository interface
type resultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *sqlx.DB) ports.ResultRepository {
	return &resultRepository{db: db}
}

// Connect opens a database handle and verifies the connection
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, core.StorageError(err, "failed to connect to results database")
	}
	return db, nil
}

// EnsureSchema creates the run and result tables when missing. Result
// columns follow the exported table contract.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS test_results (
			run_id TEXT NOT NULL REFERENCES analysis_runs(id),
			test_identifier TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			external_name TEXT NOT NULL DEFAULT '',
			effect_size DOUBLE PRECISION,
			standard_error_or_rss DOUBLE PRECISION,
			p_value DOUBLE PRECISION,
			q_value DOUBLE PRECISION,
			mean_observed_abundance DOUBLE PRECISION NOT NULL,
			significance_flag BOOLEAN NOT NULL,
			PRIMARY KEY (run_id, test_identifier, feature_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return core.StorageError(err, "failed to create results schema")
		}
	}
	return nil
}

// CreateRun inserts a new analysis run record
func (r *resultRepository) CreateRun(ctx context.Context, run ports.RunRecord) error {
	query := `INSERT INTO analysis_runs (id, description) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, run.ID.String(), run.Description); err != nil {
		return core.StorageError(err, fmt.Sprintf("failed to create run %s", run.ID))
	}
	return nil
}

// SaveResults stores a result table under its run id, replacing any prior
// rows of the same test
func (r *resultRepository) SaveResults(ctx context.Context, runID core.RunID, table *model.ResultTable) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.StorageError(err, "failed to begin results transaction")
	}
	defer tx.Rollback()

	del := `DELETE FROM test_results WHERE run_id = $1 AND test_identifier = $2`
	if _, err := tx.ExecContext(ctx, del, runID.String(), table.TestName); err != nil {
		return core.StorageError(err, fmt.Sprintf("failed to clear prior results for test %q", table.TestName))
	}

	ins := `INSERT INTO test_results (
		run_id, test_identifier, feature_id, external_name, effect_size,
		standard_error_or_rss, p_value, q_value, mean_observed_abundance,
		significance_flag
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, row := range table.Rows {
		_, err := tx.ExecContext(ctx, ins,
			runID.String(), row.Test, row.FeatureID.String(), row.ExternalName,
			row.EffectSize, row.StdErrOrRSS, row.PValue, row.QValue,
			row.MeanObs, row.Significant,
		)
		if err != nil {
			return core.StorageError(err, fmt.Sprintf("failed to insert result for feature %q", row.FeatureID))
		}
	}

	if err := tx.Commit(); err != nil {
		return core.StorageError(err, "failed to commit results")
	}
	return nil
}

// ResultsByRun loads the stored table for one run and test, in ascending
// p-value order with undefined rows last
func (r *resultRepository) ResultsByRun(ctx context.Context, runID core.RunID, testName string) (*model.ResultTable, error) {
	query := `SELECT
		feature_id, external_name, effect_size, standard_error_or_rss,
		p_value, q_value, mean_observed_abundance, significance_flag,
		test_identifier
	FROM test_results
	WHERE run_id = $1 AND test_identifier = $2
	ORDER BY p_value ASC NULLS LAST, feature_id ASC`

	var rows []model.ResultRow
	if err := r.db.SelectContext(ctx, &rows, query, runID.String(), testName); err != nil {
		return nil, core.StorageError(err, fmt.Sprintf("failed to load results for test %q", testName))
	}
	return &model.ResultTable{TestName: testName, Rows: rows}, nil
}
