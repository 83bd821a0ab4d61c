package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Storage struct {
	ExtractionRuns interface {
		EnsureSchema(ctx context.Context) error
		InsertRun(ctx context.Context, run *ExtractionRun) error
		FinishRun(ctx context.Context, run *ExtractionRun) error
		GetLatest(ctx context.Context, limit int) ([]ExtractionRun, error)
	}
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		ExtractionRuns: &ExtractionRunStore{db: db},
	}
}
