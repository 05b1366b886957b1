// Package raster is the in-process tile job sink.
//
// Sources are decoded once, kept as mipmap chains in a weight-bounded
// LRU cache and resampled with golang.org/x/image/draw. Each job reads
// the tile it targets, draws the node over it and writes it back.
// Tiles are always PNG: read-modify-write needs a lossless format with
// an alpha channel.
//
// Importing the package registers the sink as "raster":
//
//	import _ "github.com/gogpu/deepzoom/sink/raster"
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/deepzoom"
	"github.com/gogpu/deepzoom/cache"
	"github.com/gogpu/deepzoom/internal/fetch"
	intImage "github.com/gogpu/deepzoom/internal/image"
)

// Name is the registry name of the sink.
const Name = "raster"

// DefaultCacheBytes bounds the decoded sources kept in memory.
const DefaultCacheBytes = 512 << 20

func init() {
	deepzoom.RegisterSink(Name, func(cfg deepzoom.SinkConfig) (deepzoom.TileJobSink, error) {
		interp, err := intImage.ParseInterpolation(cfg.Interpolation)
		if err != nil {
			return nil, err
		}
		return New(cfg.OutputDir, cfg.Format, WithInterpolation(interp))
	})
}

// Sink composites tiles in process. It is safe for concurrent use by
// jobs with distinct tile keys.
type Sink struct {
	root    string
	format  string
	interp  intImage.InterpolationMode
	open    intImage.OpenFunc
	logger  *slog.Logger
	sources *cache.ShardedCache[string, *intImage.MipmapChain]
	loads   singleflight.Group
	pool    *intImage.Pool

	rendered atomic.Int64
	created  atomic.Int64
}

// Option configures a Sink.
type Option func(*config)

type config struct {
	interp     intImage.InterpolationMode
	open       intImage.OpenFunc
	cacheBytes int64
	logger     *slog.Logger
}

// WithInterpolation selects the resampling filter. The default is bicubic.
func WithInterpolation(m intImage.InterpolationMode) Option {
	return func(c *config) {
		c.interp = m
	}
}

// WithOpener sets how source images are opened. The default reads local
// files and http(s) URLs.
func WithOpener(open intImage.OpenFunc) Option {
	return func(c *config) {
		if open != nil {
			c.open = open
		}
	}
}

// WithCacheBytes bounds the memory held by decoded sources.
func WithCacheBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.cacheBytes = n
		}
	}
}

// WithLogger sets the sink's logger. The default is deepzoom.Logger().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a sink writing tiles in format below root. Only "png" is
// accepted.
func New(root, format string, opts ...Option) (*Sink, error) {
	if root == "" {
		return nil, errors.New("raster: empty output directory")
	}
	if strings.ToLower(format) != "png" {
		return nil, fmt.Errorf("raster: %w: %q", intImage.ErrUnsupportedFormat, format)
	}

	cfg := config{
		cacheBytes: DefaultCacheBytes,
		logger:     deepzoom.Logger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.open == nil {
		cfg.open = fetch.New(fetch.WithLogger(cfg.logger)).Open
	}

	perShard := max(cfg.cacheBytes/cache.DefaultShardCount, 1)
	return &Sink{
		root:   root,
		format: format,
		interp: cfg.interp,
		open:   cfg.open,
		logger: cfg.logger,
		sources: cache.NewSharded[string, *intImage.MipmapChain](perShard, cache.StringHasher,
			func(m *intImage.MipmapChain) int64 { return m.Bytes() }),
		pool: intImage.NewPool(16),
	}, nil
}

// Capabilities implements deepzoom.TileJobSink.
func (s *Sink) Capabilities() deepzoom.Capabilities {
	return deepzoom.Capabilities{PartialOpacity: true, Concurrent: true}
}

// Render implements deepzoom.TileJobSink.
func (s *Sink) Render(ctx context.Context, job deepzoom.TileRenderJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.source(ctx, job.Source)
	if err != nil {
		return err
	}

	path := job.Key.Path(s.root, s.format)
	tile, err := s.tile(path, job.Viewport.Dx(), job.Viewport.Dy())
	if err != nil {
		return fmt.Errorf("raster: tile %v: %w", job.Key, err)
	}
	defer s.pool.Put(tile)

	err = intImage.Composite(tile, src, intImage.Placement{
		OffsetX: job.SourceOffset.X,
		OffsetY: job.SourceOffset.Y,
		Scale:   job.Scale,
		Opacity: job.Opacity,
		Interp:  s.interp,
	})
	if err != nil {
		return fmt.Errorf("raster: tile %v: %w", job.Key, err)
	}
	if err := intImage.SaveTile(path, tile, s.format); err != nil {
		return fmt.Errorf("raster: tile %v: %w", job.Key, err)
	}
	s.rendered.Add(1)
	return nil
}

// tile returns the current content of the tile at path, or a transparent
// tile if none has been written yet.
func (s *Sink) tile(path string, w, h int) (*image.RGBA, error) {
	existing, err := intImage.LoadTile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.created.Add(1)
		return s.pool.Get(w, h), nil
	case err != nil:
		return nil, err
	}
	if b := existing.Bounds(); b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("existing tile is %dx%d, want %dx%d", b.Dx(), b.Dy(), w, h)
	}
	return existing, nil
}

// source returns the mipmap chain of the image at location, decoding it
// at most once while it stays cached.
func (s *Sink) source(ctx context.Context, location string) (*intImage.MipmapChain, error) {
	if m, ok := s.sources.Get(location); ok {
		return m, nil
	}
	v, err, _ := s.loads.Do(location, func() (any, error) {
		if m, ok := s.sources.Get(location); ok {
			return m, nil
		}
		img, err := intImage.Load(ctx, s.open, location)
		if err != nil {
			return nil, err
		}
		m := intImage.GenerateMipmaps(img)
		s.sources.Set(location, m)
		s.logger.Debug("raster: decoded source",
			slog.String("source", location),
			slog.Int("levels", m.NumLevels()),
			slog.Int64("bytes", m.Bytes()))
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("raster: source %s: %w", location, err)
	}
	return v.(*intImage.MipmapChain), nil
}

// Stats reports the work done so far.
type Stats struct {
	// Rendered counts completed jobs; Created counts tiles started from
	// a blank canvas.
	Rendered int64
	Created  int64

	Cache cache.Stats
}

// Stats returns a snapshot of the sink's counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Rendered: s.rendered.Load(),
		Created:  s.created.Load(),
		Cache:    s.sources.Stats(),
	}
}

// Close implements deepzoom.TileJobSink. It drops the decoded sources.
func (s *Sink) Close() error {
	st := s.Stats()
	s.logger.Info("raster: done",
		slog.Int64("jobs", st.Rendered),
		slog.Int64("tiles", st.Created),
		slog.String("cache", st.Cache.String()))
	s.sources.Clear()
	return nil
}
