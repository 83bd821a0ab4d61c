package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/farxc/spm-results/internal/incentive/credentials"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
)

// Fetcher retrieves one collection as a raw JSON array.
type Fetcher interface {
	Fetch(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error)
}

// Batch is the outcome of querying every collection once.
type Batch struct {
	Payloads map[types.Resource]json.RawMessage
	Failures []*types.FetchError
}

// Err returns a *types.BatchError listing every failed collection, or nil.
func (b Batch) Err() error {
	if len(b.Failures) == 0 {
		return nil
	}
	return &types.BatchError{Failures: b.Failures}
}

type outcome struct {
	payload json.RawMessage
	err     error
}

/*
FetchAll queries every collection concurrently and waits for all of them.
Results are kept in fixed slots so the batch is always reported in resource
order, whatever order the requests finish in. A failing collection does not
cancel the others.
*/
func FetchAll(ctx context.Context, fetcher Fetcher, q types.Query, token credentials.Token, appLogger *logger.Logger) Batch {
	const component = "Aggregator"
	var wg sync.WaitGroup

	outcomes := make([]outcome, len(types.Resources))
	start := time.Now()

	appLogger.Debug(component, "Starting fan-out: tenant=%s collections=%d", q.TenantName, len(types.Resources))
	for i, resource := range types.Resources {
		wg.Add(1)
		go func(i int, resource types.Resource) {
			defer wg.Done()
			payload, err := fetcher.Fetch(ctx, resource, q, token)
			outcomes[i] = outcome{payload: payload, err: err}
		}(i, resource)
	}
	wg.Wait()

	batch := Batch{Payloads: make(map[types.Resource]json.RawMessage, len(types.Resources))}
	for i, resource := range types.Resources {
		o := outcomes[i]
		if o.err != nil {
			batch.Failures = append(batch.Failures, asFetchError(resource, o.err))
			continue
		}
		batch.Payloads[resource] = o.payload
	}

	for _, f := range batch.Failures {
		appLogger.Warn(component, "Collection failed: tenant=%s resource=%s kind=%s error=%v", q.TenantName, f.Resource, f.Kind, f.Err)
	}
	appLogger.Info(component, "Fan-in completed: tenant=%s fetched=%d failed=%d duration=%s", q.TenantName, len(batch.Payloads), len(batch.Failures), time.Since(start).Round(time.Millisecond))
	return batch
}

func asFetchError(resource types.Resource, err error) *types.FetchError {
	var fe *types.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	kind := types.KindUpstreamStatus
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = types.KindUnavailable
	}
	return &types.FetchError{Resource: resource, Kind: kind, Err: fmt.Errorf("fetch %s: %w", resource, err)}
}
