package services

import (
	"sync"
	"time"
)

// BatchOptions configures the fan-out helper.
type BatchOptions struct {
	Limit        int           // max operations in flight; default 10
	InterBatch   time.Duration // optional delay between batches
	BreakOnError bool          // abort the whole traversal on first failure
	OnError      func(index int, err error)
}

// RunBatched processes items in order with at most Limit operations in
// flight. Results are appended to an accumulator in item order.
func RunBatched[T any, R any](items []T, opts BatchOptions, fn func(item T, index int) (R, error)) ([]R, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var aborted bool

	for i, item := range items {
		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(item T, i int) {
			defer wg.Done()
			defer func() { <-sem }()

			r, err := fn(item, i)
			if err != nil {
				mu.Lock()
				errs[i] = err
				if opts.BreakOnError {
					aborted = true
				}
				mu.Unlock()
				if opts.OnError != nil {
					opts.OnError(i, err)
				}
				return
			}
			mu.Lock()
			results[i] = r
			mu.Unlock()
		}(item, i)

		if opts.InterBatch > 0 && (i+1)%limit == 0 {
			wg.Wait()
			time.Sleep(opts.InterBatch)
		}
	}

	wg.Wait()

	if opts.BreakOnError {
		for _, err := range errs {
			if err != nil {
				return results, err
			}
		}
	}
	return results, nil
}
