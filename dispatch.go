package deepzoom

import (
	"context"
	"log/slog"

	"github.com/gogpu/deepzoom/internal/parallel"
)

// Dispatch feeds jobs to sink.
//
// A sink advertising Concurrent receives the jobs grouped by tile key:
// each key's jobs form one batch, applied in plan order, and batches run
// on up to workers goroutines. Any other sink receives the jobs one at a
// time in plan order. ctx is checked between batches (between jobs on
// the sequential path); the first error stops dispatch and is returned.
//
// Dispatch does not close sink.
func Dispatch(ctx context.Context, jobs []TileRenderJob, sink TileJobSink, workers int) error {
	if !sink.Capabilities().Concurrent || workers == 1 {
		Logger().Debug("deepzoom: sequential dispatch", slog.Int("jobs", len(jobs)))
		for _, job := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sink.Render(ctx, job); err != nil {
				return err
			}
		}
		return nil
	}

	groups := parallel.Group(jobs, func(j TileRenderJob) TileKey { return j.Key })
	batches := make([]parallel.Batch, len(groups))
	for i, group := range groups {
		batches[i] = func(ctx context.Context) error {
			for _, job := range group {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sink.Render(ctx, job); err != nil {
					return err
				}
			}
			return nil
		}
	}

	pool := parallel.NewPool(workers)
	Logger().Debug("deepzoom: parallel dispatch",
		slog.Int("jobs", len(jobs)),
		slog.Int("batches", len(batches)),
		slog.Int("workers", pool.Workers()))
	return pool.Run(ctx, batches)
}
