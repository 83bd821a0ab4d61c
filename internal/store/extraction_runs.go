package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type ExtractionRunStore struct {
	db *sqlx.DB
}

var (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusFailure    = "failure"
)

var (
	TriggerTypeWeb = "web"
	TriggerTypeAPI = "api"
	TriggerTypeCLI = "cli"
)

const extractionRunsSchema = `CREATE TABLE IF NOT EXISTS extraction_runs (
	id               BIGSERIAL PRIMARY KEY,
	run_id           UUID NOT NULL UNIQUE,
	tenant_name      TEXT NOT NULL,
	payee_id         TEXT NOT NULL,
	month            TEXT NOT NULL,
	trigger_type     TEXT NOT NULL,
	status           TEXT NOT NULL,
	row_count        INTEGER NOT NULL DEFAULT 0,
	missing_fields   INTEGER NOT NULL DEFAULT 0,
	error_kind       TEXT NOT NULL DEFAULT '',
	failed_resources TEXT[] NOT NULL DEFAULT '{}',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at      TIMESTAMPTZ
)`

// EnsureSchema creates the extraction_runs table when it does not exist yet.
func (es *ExtractionRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, extractionRunsSchema); err != nil {
		return fmt.Errorf("failed to create extraction_runs table: %w", err)
	}
	return nil
}

func (es *ExtractionRunStore) InsertRun(ctx context.Context, run *ExtractionRun) error {
	query := `INSERT INTO extraction_runs (
		run_id,
		tenant_name,
		payee_id,
		month,
		trigger_type,
		status
	) VALUES (
		:run_id,
		:tenant_name,
		:payee_id,
		:month,
		:trigger_type,
		:status
	) RETURNING id, started_at`

	rows, err := sqlx.NamedQueryContext(ctx, es.db, query, run)
	if err != nil {
		return fmt.Errorf("failed to insert extraction run: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&run.ID, &run.StartedAt); err != nil {
			return fmt.Errorf("failed to scan extraction run id: %w", err)
		}
	}
	return rows.Err()
}

func (es *ExtractionRunStore) FinishRun(ctx context.Context, run *ExtractionRun) error {
	now := time.Now()
	run.FinishedAt = &now
	if run.FailedResources == nil {
		run.FailedResources = pq.StringArray{}
	}

	query := `UPDATE extraction_runs SET
		status = :status,
		row_count = :row_count,
		missing_fields = :missing_fields,
		error_kind = :error_kind,
		failed_resources = :failed_resources,
		finished_at = :finished_at
	WHERE run_id = :run_id`

	result, err := es.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("failed to finish extraction run %s: %w", run.RunID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("extraction run %s not found", run.RunID)
	}
	return nil
}

func (es *ExtractionRunStore) GetLatest(ctx context.Context, limit int) ([]ExtractionRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
	SELECT
		id, run_id, tenant_name, payee_id, month, trigger_type, status,
		row_count, missing_fields, error_kind, failed_resources, started_at, finished_at
	FROM
		extraction_runs
	ORDER BY
		started_at DESC
	LIMIT $1`

	runs := []ExtractionRun{}
	if err := es.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query extraction runs: %w", err)
	}
	return runs, nil
}
