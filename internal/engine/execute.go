package engine

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/steward/pkg/api"
)

// ParallelExecute starts each run on its own goroutine and aggregates all
// results once every run has finished. One run's failure never cancels
// another; each result carries its own error.
func (e *Engine) ParallelExecute(ctx context.Context, runIDs []string) []api.RunResult {
	results := make([]api.RunResult, len(runIDs))

	var wg sync.WaitGroup
	for i, id := range runIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			run, err := e.Start(ctx, id)
			results[i] = api.RunResult{RunID: id, Err: err}
			if run != nil {
				results[i].Status = run.Status
			}
		}(i, id)
	}
	wg.Wait()

	return results
}

// ConditionalExecute evaluates a named predicate and starts the run only
// if it holds. A false predicate yields a skipped result carrying the
// predicate as the reason; it is not an error.
func (e *Engine) ConditionalExecute(ctx context.Context, runID string, predicate string) (api.ConditionalResult, error) {
	eval, ok := e.predicate(predicate)
	if !ok {
		return api.ConditionalResult{}, api.NewValidationError("predicate", "unknown predicate "+predicate)
	}

	result := api.ConditionalResult{RunID: runID, Predicate: predicate}
	if !eval() {
		result.Skipped = true
		return result, nil
	}

	run, err := e.Start(ctx, runID)
	if err != nil {
		return result, err
	}
	result.Run = run
	return result, nil
}

// predicate resolves the small named predicate set: boolean literals, a
// fixed business-hours window, and a resource-availability stub.
func (e *Engine) predicate(name string) (func() bool, bool) {
	switch name {
	case "always", "true":
		return func() bool { return true }, true
	case "never", "false":
		return func() bool { return false }, true
	case "business-hours":
		return func() bool { return isBusinessHours(e.clock()) }, true
	case "resources-available":
		// Stub until a real capacity source is wired in.
		return func() bool { return true }, true
	}
	return nil, false
}

// isBusinessHours reports whether t falls within 09:00-17:59 on a weekday.
func isBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 18
}
