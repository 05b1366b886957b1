package deepzoom

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Capabilities describes what a sink can do.
type Capabilities struct {
	// PartialOpacity reports whether jobs with Opacity < 255 can be
	// composited. Sinks without it reject such jobs with *CapabilityError.
	PartialOpacity bool

	// Concurrent reports whether Render may be called from several
	// goroutines for jobs with different tile keys.
	Concurrent bool
}

// TileJobSink produces the pixels of the pyramid.
//
// # Implementation Contract
//
// A sink must:
//  1. Reject a job it cannot honour (for example partial opacity) with
//     *CapabilityError rather than render it differently.
//  2. Composite jobs with the same tile key strictly in the order Render
//     is called for them. Each job reads and writes its tile.
//  3. Treat every Render call on its own; buffering is only allowed when
//     it cannot reorder jobs of one tile.
//
// Close flushes any buffered work and releases resources.
type TileJobSink interface {
	Capabilities() Capabilities
	Render(ctx context.Context, job TileRenderJob) error
	Close() error
}

// BufferedSink is implemented by sinks that queue jobs in Render and
// render them later. The Composer calls Flush after a successful
// dispatch, before the descriptor is written, and Discard when the run
// fails, so that Close never renders tiles of a failed run.
type BufferedSink interface {
	TileJobSink

	// Flush renders every queued job.
	Flush(ctx context.Context) error

	// Discard drops the queued jobs without rendering them.
	Discard()
}

// CheckCapabilities returns a *CapabilityError for the first job sink
// cannot render. name labels the sink in the error.
func CheckCapabilities(name string, sink TileJobSink, jobs []TileRenderJob) error {
	caps := sink.Capabilities()
	if caps.PartialOpacity {
		return nil
	}
	for _, j := range jobs {
		if !j.Opaque() {
			return &CapabilityError{Sink: name, Key: j.Key, Opacity: j.Opacity}
		}
	}
	return nil
}

// SinkConfig carries the settings shared by registered sinks.
type SinkConfig struct {
	// OutputDir is the tile root, usually "<name>_files".
	OutputDir string

	// Format is the tile file extension ("png").
	Format string

	// Tool overrides the external program a sink runs, if it runs one.
	Tool string

	// Interpolation selects the resampling filter of in-process sinks:
	// "nearest", "bilinear" or "bicubic".
	Interpolation string
}

// SinkFactory creates a sink from cfg.
type SinkFactory func(cfg SinkConfig) (TileJobSink, error)

var (
	sinkRegistryMu sync.RWMutex
	sinkFactories  = make(map[string]SinkFactory)
)

// RegisterSink makes a sink available by name. It is meant to be called
// from the init function of a sink package:
//
//	func init() {
//	    deepzoom.RegisterSink("raster", func(cfg deepzoom.SinkConfig) (deepzoom.TileJobSink, error) {
//	        return New(cfg)
//	    })
//	}
//
// RegisterSink panics if factory is nil or name is already registered.
func RegisterSink(name string, factory SinkFactory) {
	sinkRegistryMu.Lock()
	defer sinkRegistryMu.Unlock()

	if factory == nil {
		panic("deepzoom: RegisterSink factory is nil")
	}
	if _, dup := sinkFactories[name]; dup {
		panic("deepzoom: RegisterSink called twice for " + name)
	}
	sinkFactories[name] = factory
}

// UnregisterSink removes a sink from the registry. Unknown names are ignored.
func UnregisterSink(name string) {
	sinkRegistryMu.Lock()
	defer sinkRegistryMu.Unlock()
	delete(sinkFactories, name)
}

// NewSink creates the sink registered under name.
func NewSink(name string, cfg SinkConfig) (TileJobSink, error) {
	sinkRegistryMu.RLock()
	factory, ok := sinkFactories[name]
	sinkRegistryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("deepzoom: unknown sink %q (forgotten import?)", name)
	}
	return factory(cfg)
}

// Sinks returns the registered sink names in sorted order.
func Sinks() []string {
	sinkRegistryMu.RLock()
	defer sinkRegistryMu.RUnlock()

	names := make([]string, 0, len(sinkFactories))
	for name := range sinkFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recorder is a sink that keeps every job in memory. It backs dry runs
// and tests.
type Recorder struct {
	mu     sync.Mutex
	caps   Capabilities
	jobs   []TileRenderJob
	closed bool
}

// NewRecorder returns a Recorder advertising caps.
func NewRecorder(caps Capabilities) *Recorder {
	return &Recorder{caps: caps}
}

// Capabilities implements TileJobSink.
func (r *Recorder) Capabilities() Capabilities { return r.caps }

// Render implements TileJobSink.
func (r *Recorder) Render(ctx context.Context, job TileRenderJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.caps.PartialOpacity && !job.Opaque() {
		return &CapabilityError{Sink: "recorder", Key: job.Key, Opacity: job.Opacity}
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	return nil
}

// Close implements TileJobSink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Jobs returns a copy of the recorded jobs in arrival order.
func (r *Recorder) Jobs() []TileRenderJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TileRenderJob, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Closed reports whether Close has been called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
