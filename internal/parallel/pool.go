// Package parallel runs independent batches of tile work on a bounded
// number of goroutines.
//
// A batch is the unit of ordering: work inside one batch runs
// sequentially on one goroutine, while different batches may run at the
// same time. Callers put every job of one output tile into one batch.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Batch is one unit of sequential work. It should check ctx between the
// steps it performs.
type Batch func(ctx context.Context) error

// Pool runs batches with at most Workers of them in flight.
//
// Thread safety: Pool is safe for concurrent use; each Run call has its
// own error group.
type Pool struct {
	workers int
}

// NewPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the number of batches that may run at once.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes batches and waits for them.
//
// The first failing batch cancels the context passed to the others, and
// no new batch starts once the context is done. Run returns the first
// batch error, or ctx.Err() if the parent context ended the run.
func (p *Pool) Run(ctx context.Context, batches []Batch) error {
	if len(batches) == 0 {
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, b := range batches {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Checked again here: the slot may have freed up after cancellation.
			if err := gctx.Err(); err != nil {
				return err
			}
			return b(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
