// Package workerpool implements C2, the bounded-concurrency executor
// shared by the extraction, embedding, and labelling stages: up to
// `workers` calls in flight at once, per-task timeout, and
// order-preserving results with no whole-batch abort on partial
// failure. Grounded on the teacher's internal/infra/workers.go
// ParallelProcess channel-semaphore + WaitGroup idiom.
package workerpool

import (
	"context"
	"sync"
	"time"
)

// ProgressFunc is called after every completed task with the number of
// newly completed items (batch delta), so the Stage Runtime can stream
// progress without polling.
type ProgressFunc func(completedDelta int)

// Result pairs a task's output with any error. On timeout or task
// failure, Value holds the zero value for R and Err is set; the task's
// positional slot is never dropped.
type Result[R any] struct {
	Value R
	Err   error
}

// MapWithLimit runs fn(ctx, item) for every item with at most workers
// concurrently in flight, each bounded by perTaskTimeout. Results are
// returned in input order regardless of completion order. A timed-out or
// failed task contributes its zero value at its index; it never aborts
// the batch (spec §4.2's partial-failure invariant). If progress is
// non-nil, it is invoked once per completed task with delta=1, under an
// internal mutex so that progress is never called concurrently.
func MapWithLimit[T, R any](ctx context.Context, items []T, workers int, perTaskTimeout time.Duration, fn func(context.Context, T) (R, error), progress ProgressFunc) []Result[R] {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var progressMu sync.Mutex

	for i, item := range items {
		select {
		case <-ctx.Done():
			results[i] = Result[R]{Err: ctx.Err()}
			continue
		default:
		}

		wg.Add(1)
		go func(idx int, data T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = Result[R]{Err: ctx.Err()}
				return
			}

			taskCtx := ctx
			var cancel context.CancelFunc
			if perTaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
				defer cancel()
			}

			value, err := fn(taskCtx, data)
			results[idx] = Result[R]{Value: value, Err: err}

			if progress != nil {
				progressMu.Lock()
				progress(1)
				progressMu.Unlock()
			}
		}(i, item)
	}

	wg.Wait()
	return results
}
