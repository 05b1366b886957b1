// Package scenegraph loads sparse image scene graphs.
//
// Two formats are understood: the XML SparseImageSceneGraph document and
// a compact line-oriented text format (see ParseText). Both produce a
// Graph, which Build turns into a validated deepzoom.Scene by resolving
// image paths and reading each image's size.
package scenegraph

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/deepzoom"
	"github.com/gogpu/deepzoom/internal/fetch"
	intImage "github.com/gogpu/deepzoom/internal/image"
)

// Graph is a scene graph as written, before images are inspected.
// Node image paths are as they appear in the document.
type Graph struct {
	AspectRatio float64
	Nodes       []deepzoom.NodeSpec
}

// Format identifies a scene graph syntax.
type Format int

const (
	// FormatAuto picks the format from the document's first byte.
	FormatAuto Format = iota
	FormatXML
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatText:
		return "text"
	default:
		return "auto"
	}
}

// Parse reads a scene graph in the given format. name labels errors.
func Parse(r io.Reader, name string, format Format) (*Graph, error) {
	br := bufio.NewReader(r)
	if format == FormatAuto {
		format = sniff(br)
	}
	switch format {
	case FormatXML:
		return ParseXML(br)
	default:
		return ParseText(br, name)
	}
}

// sniff reports FormatXML if the first non-space byte is '<'.
func sniff(br *bufio.Reader) Format {
	for n := 64; ; n *= 2 {
		peek, err := br.Peek(n)
		trimmed := bytes.TrimLeft(peek, " \t\r\n\uFEFF")
		if len(trimmed) > 0 {
			if trimmed[0] == '<' {
				return FormatXML
			}
			return FormatText
		}
		if err != nil {
			return FormatText
		}
	}
}

// Sizer returns the pixel size of the image at location.
type Sizer func(ctx context.Context, location string) (deepzoom.ImageSize, error)

// Loader reads scene graphs.
type Loader struct {
	fetcher *fetch.Fetcher
	sizer   Sizer
	format  Format
	workers int
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithFetcher sets the fetcher for the scene graph and, unless WithSizer
// is given, for the images.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(l *Loader) {
		if f != nil {
			l.fetcher = f
		}
	}
}

// WithSizer overrides how image sizes are determined.
func WithSizer(s Sizer) Option {
	return func(l *Loader) {
		l.sizer = s
	}
}

// WithFormat forces a document format instead of sniffing it.
func WithFormat(f Format) Option {
	return func(l *Loader) {
		l.format = f
	}
}

// WithWorkers limits how many images are inspected at once.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithLogger sets the logger for load progress. A nil logger keeps the
// package logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		workers: 8,
		logger:  deepzoom.Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetcher == nil {
		l.fetcher = fetch.New(fetch.WithLogger(l.logger))
	}
	if l.sizer == nil {
		l.sizer = l.headerSize
	}
	return l
}

// Load reads the scene graph at location, a file path or http(s) URL,
// and returns the validated scene.
func Load(ctx context.Context, location string, opts ...Option) (deepzoom.Scene, error) {
	return NewLoader(opts...).Load(ctx, location)
}

// Load reads the scene graph at location and returns the validated scene.
func (l *Loader) Load(ctx context.Context, location string) (deepzoom.Scene, error) {
	rc, err := l.fetcher.Open(ctx, location)
	if err != nil {
		return deepzoom.Scene{}, fmt.Errorf("scenegraph: %w", err)
	}
	defer func() { _ = rc.Close() }()

	format := l.format
	if format == FormatAuto && strings.EqualFold(filepath.Ext(location), ".scene") {
		format = FormatText
	}
	g, err := Parse(rc, location, format)
	if err != nil {
		return deepzoom.Scene{}, err
	}
	return l.Build(ctx, g, location)
}

// Build resolves the node image paths of g against base, the location of
// the scene graph document, reads each distinct image's size once and
// validates the nodes.
func (l *Loader) Build(ctx context.Context, g *Graph, base string) (deepzoom.Scene, error) {
	if len(g.Nodes) == 0 {
		return deepzoom.Scene{}, &deepzoom.ConfigError{Node: -1, Err: deepzoom.ErrEmptyScene}
	}

	paths := make([]string, len(g.Nodes))
	sizes := make(map[string]deepzoom.ImageSize)
	for i, spec := range g.Nodes {
		paths[i] = fetch.Resolve(base, spec.ImagePath)
		sizes[paths[i]] = deepzoom.ImageSize{}
	}

	if err := l.probe(ctx, sizes); err != nil {
		return deepzoom.Scene{}, err
	}

	scene := deepzoom.Scene{
		AspectRatio: g.AspectRatio,
		Nodes:       make([]deepzoom.SceneNode, 0, len(g.Nodes)),
	}
	for i, spec := range g.Nodes {
		spec.ImagePath = paths[i]
		n, err := deepzoom.NewSceneNode(i, spec, sizes[paths[i]])
		if err != nil {
			return deepzoom.Scene{}, err
		}
		scene.Nodes = append(scene.Nodes, n)
	}
	l.logger.Info("scenegraph: loaded",
		slog.String("location", base),
		slog.Int("nodes", len(scene.Nodes)),
		slog.Int("images", len(sizes)))
	return scene, nil
}

// probe fills sizes, inspecting up to l.workers images at once.
func (l *Loader) probe(ctx context.Context, sizes map[string]deepzoom.ImageSize) error {
	locations := make([]string, 0, len(sizes))
	for loc := range sizes {
		locations = append(locations, loc)
	}
	results := make([]deepzoom.ImageSize, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, loc := range locations {
		g.Go(func() error {
			size, err := l.sizer(gctx, loc)
			if err != nil {
				return &deepzoom.ResourceError{Resource: loc, Err: err}
			}
			results[i] = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, loc := range locations {
		sizes[loc] = results[i]
	}
	return nil
}

// headerSize reads only the image header through the fetcher.
func (l *Loader) headerSize(ctx context.Context, location string) (deepzoom.ImageSize, error) {
	w, h, err := intImage.Size(ctx, l.fetcher.Open, location)
	if err != nil {
		return deepzoom.ImageSize{}, err
	}
	return deepzoom.ImageSize{Width: w, Height: h}, nil
}
