package deepzoom

import "log/slog"

// ComposerOption configures a Composer during creation.
//
// Example:
//
//	sink, _ := deepzoom.NewSink("raster", deepzoom.SinkConfig{OutputDir: "out_files", Format: "png"})
//	c := deepzoom.NewComposer(deepzoom.WithSink("raster", sink), deepzoom.WithWorkers(8))
type ComposerOption func(*composerOptions)

// composerOptions holds optional configuration for a Composer.
type composerOptions struct {
	sinkName string
	sink     TileJobSink
	workers  int
	format   string
	logger   *slog.Logger
	dryRun   bool
}

// defaultComposerOptions returns the default composer options.
func defaultComposerOptions() composerOptions {
	return composerOptions{
		workers: 0, // GOMAXPROCS
		format:  "png",
	}
}

// WithSink sets the sink that renders the tiles. name labels the sink in
// errors and logs. The Composer closes the sink when a run ends.
func WithSink(name string, sink TileJobSink) ComposerOption {
	return func(o *composerOptions) {
		o.sinkName = name
		o.sink = sink
	}
}

// WithWorkers limits the number of tiles rendered at once. Values <= 0
// select GOMAXPROCS. It only matters for sinks that are Concurrent.
func WithWorkers(n int) ComposerOption {
	return func(o *composerOptions) {
		o.workers = n
	}
}

// WithFormat sets the tile file format recorded in the descriptor.
func WithFormat(format string) ComposerOption {
	return func(o *composerOptions) {
		if format != "" {
			o.format = format
		}
	}
}

// WithLogger sets the logger for run-level messages. Without it the
// package logger (see SetLogger) is used.
func WithLogger(l *slog.Logger) ComposerOption {
	return func(o *composerOptions) {
		o.logger = l
	}
}

// WithDryRun makes the Composer plan and validate the run without
// rendering. Jobs go to an in-memory Recorder and no descriptor is
// written. A configured sink is still checked for capabilities.
func WithDryRun(dryRun bool) ComposerOption {
	return func(o *composerOptions) {
		o.dryRun = dryRun
	}
}
