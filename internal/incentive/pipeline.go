package incentive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farxc/spm-results/internal/incentive/assemble"
	"github.com/farxc/spm-results/internal/incentive/converter"
	"github.com/farxc/spm-results/internal/incentive/credentials"
	"github.com/farxc/spm-results/internal/incentive/normalize"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/store"
	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
)

const DefaultBatchTimeout = 60 * time.Second

const recordTimeout = 5 * time.Second

// RunRecorder keeps run metadata. store.ExtractionRunStore implements it.
type RunRecorder interface {
	InsertRun(ctx context.Context, run *store.ExtractionRun) error
	FinishRun(ctx context.Context, run *store.ExtractionRun) error
}

type Result struct {
	RunID   string
	Frame   dataframe.DataFrame
	Rows    []types.Row
	Missing []types.MissingField
}

// Empty reports whether no collection returned a matching record.
func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

type Pipeline struct {
	fetcher      assemble.Fetcher
	recorder     RunRecorder
	appLogger    *logger.Logger
	batchTimeout time.Duration
}

// NewPipeline wires the stages together. recorder may be nil when run history is disabled.
func NewPipeline(fetcher assemble.Fetcher, recorder RunRecorder, appLogger *logger.Logger, batchTimeout time.Duration) *Pipeline {
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Pipeline{
		fetcher:      fetcher,
		recorder:     recorder,
		appLogger:    appLogger,
		batchTimeout: batchTimeout,
	}
}

/*
Run executes one extraction: validate the query, encode the credentials, fetch
the five collections concurrently under the batch timeout and normalize them
into a single table. Any failed collection aborts the run with a
*types.BatchError that lists every failure; nothing partial is returned.
*/
func (p *Pipeline) Run(ctx context.Context, q types.Query, trigger string) (*Result, error) {
	const component = "Pipeline"

	if err := q.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runLogger := p.appLogger.With("run_id", runID)
	start := time.Now()

	run := &store.ExtractionRun{
		RunID:       runID,
		TenantName:  q.TenantName,
		PayeeID:     q.PayeeID,
		Month:       q.Month,
		TriggerType: trigger,
		Status:      store.StatusInProgress,
	}
	p.insertRun(ctx, run, runLogger)

	runLogger.Info(component, "Run started: tenant=%s payeeId=%s month=%s trigger=%s", q.TenantName, q.PayeeID, q.Month, trigger)

	result, err := p.execute(ctx, q, runLogger)
	if err != nil {
		run.Status = store.StatusFailure
		run.ErrorKind = string(types.KindOf(err))
		var batchErr *types.BatchError
		if errors.As(err, &batchErr) {
			run.FailedResources = batchErr.Resources()
		}
		p.finishRun(ctx, run, runLogger)
		runLogger.Error(component, "Run failed: kind=%s duration=%s error=%v", run.ErrorKind, time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}
	result.RunID = runID

	run.Status = store.StatusSuccess
	run.RowCount = len(result.Rows)
	run.MissingFields = len(result.Missing)
	p.finishRun(ctx, run, runLogger)

	runLogger.Info(component, "Run completed: rows=%d missingFields=%d duration=%s", run.RowCount, run.MissingFields, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, q types.Query, runLogger *logger.Logger) (*Result, error) {
	token := credentials.Encode(q.Username, q.Password)

	batchCtx, cancel := context.WithTimeout(ctx, p.batchTimeout)
	defer cancel()

	batch := assemble.FetchAll(batchCtx, p.fetcher, q, token, runLogger)
	if err := batch.Err(); err != nil {
		return nil, err
	}

	df, missing, err := normalize.Normalize(batch.Payloads, runLogger)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	return &Result{
		Frame:   df,
		Rows:    converter.DfToRows(df),
		Missing: missing,
	}, nil
}

// insertRun and finishRun never fail the run: history is best effort.
func (p *Pipeline) insertRun(ctx context.Context, run *store.ExtractionRun, runLogger *logger.Logger) {
	if p.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := p.recorder.InsertRun(recordCtx, run); err != nil {
		runLogger.Warn("RunHistory", "Failed to record run start: error=%v", err)
	}
}

func (p *Pipeline) finishRun(ctx context.Context, run *store.ExtractionRun, runLogger *logger.Logger) {
	if p.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := p.recorder.FinishRun(recordCtx, run); err != nil {
		runLogger.Warn("RunHistory", "Failed to record run result: status=%s error=%v", run.Status, err)
	}
}
