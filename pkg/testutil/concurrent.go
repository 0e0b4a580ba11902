package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"fraudengine/internal/sentinel"
	dErrors "fraudengine/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes          int32
	Errors             int32
	Conflicts          int32
	NotFounds          int32
	InvalidTransitions int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds + r.InvalidTransitions
}

// RunConcurrent executes fn in parallel goroutines and collects results.
// Errors are bucketed by store sentinel or domain code; anything else counts as a generic error.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, errs, conflicts, notFounds, invalid atomic.Int32

	// start gate so goroutines race instead of running in spawn order
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict), dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
				notFounds.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidStateTransition):
				invalid.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:          successes.Load(),
		Errors:             errs.Load(),
		Conflicts:          conflicts.Load(),
		NotFounds:          notFounds.Load(),
		InvalidTransitions: invalid.Load(),
	}
}
