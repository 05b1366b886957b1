package deepzoom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Result summarises a finished composition.
type Result struct {
	Canvas Canvas
	Stats  PlanStats

	// Descriptor is the path of the written descriptor; empty on dry runs.
	Descriptor string

	// Jobs holds the planned jobs of a dry run.
	Jobs []TileRenderJob

	Elapsed time.Duration
}

// Composer runs the whole pipeline for a scene: canvas sizing, planning,
// capability checks, tile rendering and the descriptor.
type Composer struct {
	opts composerOptions
}

// NewComposer creates a Composer.
//
// Example:
//
//	c := deepzoom.NewComposer(deepzoom.WithSink("raster", sink))
//	res, err := c.Compose(ctx, scene, "out/mosaic")
func NewComposer(opts ...ComposerOption) *Composer {
	o := defaultComposerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Composer{opts: o}
}

func (c *Composer) logger() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return Logger()
}

// TilesDir returns the tile folder of the pyramid named out.
func TilesDir(out string) string { return out + "_files" }

// DescriptorPath returns the descriptor path of the pyramid named out.
func DescriptorPath(out string) string { return out + ".dzi" }

// Compose builds the pyramid of scene. Tiles go to TilesDir(out) through
// the configured sink and the descriptor to DescriptorPath(out).
//
// Configuration and capability errors are returned before any tile is
// rendered. A BufferedSink is flushed before the descriptor is written
// and discarded on failure. The sink is closed before Compose returns.
func (c *Composer) Compose(ctx context.Context, scene Scene, out string) (res Result, err error) {
	start := time.Now()
	log := c.logger()

	sink, name := c.opts.sink, c.opts.sinkName
	if sink != nil {
		defer func() {
			if cerr := sink.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("deepzoom: close sink %q: %w", name, cerr))
			}
		}()
		if bs, ok := sink.(BufferedSink); ok {
			defer func() {
				if err != nil {
					bs.Discard()
				}
			}()
		}
	} else if !c.opts.dryRun {
		return Result{}, errors.New("deepzoom: no sink configured")
	}

	canvas, err := NewCanvas(scene.Nodes, scene.AspectRatio)
	if err != nil {
		return Result{}, err
	}
	log.Info("deepzoom: canvas",
		slog.Int("width", canvas.Width),
		slog.Int("height", canvas.Height),
		slog.Int("levels", canvas.FinestLod+1))

	jobs, stats := Plan(canvas, scene.Nodes)
	res = Result{Canvas: canvas, Stats: stats}
	log.Info("deepzoom: plan",
		slog.Int("nodes", len(scene.Nodes)),
		slog.Int("jobs", stats.Jobs),
		slog.Int("fillJobs", stats.FillJobs),
		slog.Int("tiles", stats.Tiles))

	if sink != nil {
		if err := CheckCapabilities(name, sink, jobs); err != nil {
			return res, err
		}
	}

	if c.opts.dryRun {
		rec := NewRecorder(Capabilities{PartialOpacity: true})
		if err := Dispatch(ctx, jobs, rec, 1); err != nil {
			return res, err
		}
		res.Jobs = rec.Jobs()
		res.Elapsed = time.Since(start)
		return res, nil
	}

	if err := Dispatch(ctx, jobs, sink, c.opts.workers); err != nil {
		return res, fmt.Errorf("deepzoom: render: %w", err)
	}
	if bs, ok := sink.(BufferedSink); ok {
		if err := bs.Flush(ctx); err != nil {
			return res, fmt.Errorf("deepzoom: render: %w", err)
		}
	}

	path := DescriptorPath(out)
	if err := WriteDescriptor(path, NewDescriptor(canvas, c.opts.format)); err != nil {
		return res, err
	}
	res.Descriptor = path
	res.Elapsed = time.Since(start)
	log.Info("deepzoom: done",
		slog.String("descriptor", path),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}
