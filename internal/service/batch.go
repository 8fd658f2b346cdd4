package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultWriteConcurrency = 8

type write struct {
	id  string
	run func(ctx context.Context) error
}

// runBatch issues the writes concurrently, at most limit in flight, and waits
// for all of them. Every failure is collected; nothing is retried.
func runBatch(ctx context.Context, op string, limit int, writes []write) error {
	if len(writes) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = defaultWriteConcurrency
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make([]error, len(writes))
	)
	g.SetLimit(limit)
	for i, w := range writes {
		g.Go(func() error {
			if err := w.run(ctx); err != nil {
				mu.Lock()
				failed[i] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	batchErr := &BatchError{Op: op, Total: len(writes)}
	for i, err := range failed {
		if err != nil {
			batchErr.Failed = append(batchErr.Failed, writes[i].id)
			batchErr.Errs = append(batchErr.Errs, err)
		}
	}
	if len(batchErr.Failed) == 0 {
		return nil
	}
	return batchErr
}
