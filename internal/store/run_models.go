package store

import (
	"time"

	"github.com/lib/pq"
)

// ExtractionRun represents the 'extraction_runs' table. It never holds
// credentials or result rows, only what is needed to audit a run.
type ExtractionRun struct {
	ID              int64          `db:"id" json:"id"`
	RunID           string         `db:"run_id" json:"run_id"`
	TenantName      string         `db:"tenant_name" json:"tenant_name"`
	PayeeID         string         `db:"payee_id" json:"payee_id"`
	Month           string         `db:"month" json:"month"`
	TriggerType     string         `db:"trigger_type" json:"trigger_type"`
	Status          string         `db:"status" json:"status"`
	RowCount        int            `db:"row_count" json:"row_count"`
	MissingFields   int            `db:"missing_fields" json:"missing_fields"`
	ErrorKind       string         `db:"error_kind" json:"error_kind,omitempty"`
	FailedResources pq.StringArray `db:"failed_resources" json:"failed_resources"`
	StartedAt       time.Time      `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
}
