package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Handler processes one item on one worker. Worker IDs are 0..workers-1 and
// each worker runs one item at a time.
type Handler func(ctx context.Context, worker, item int) error

// RunPool feeds items 0..n-1 through a queue to a fixed set of workers.
// Handler errors are collected and never stop other items. Cancelling ctx
// stops dispatch; items already running finish and the cancellation is
// returned with the other errors.
func RunPool(ctx context.Context, workers, n int, handle Handler) []error {
	if workers < 1 {
		workers = 1
	}
	if workers > n && n > 0 {
		workers = n
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	queue := make(chan int)
	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(queue)
		for i := 0; i < n; i++ {
			select {
			case queue <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for item := range queue {
				if err := handle(ctx, w, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errs
}
