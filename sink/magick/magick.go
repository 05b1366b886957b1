// Package magick renders tiles with the ImageMagick command line tools.
//
// Every job runs "convert" to resample the source into a transparent
// viewport with an SRT distortion, then "composite" to draw the result
// over the tile if one already exists. The tools cannot apply a partial
// opacity, so fading nodes need another sink.
//
// Importing the package registers the sink as "magick".
package magick

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gogpu/deepzoom"
)

// Name is the registry name of the sink.
const Name = "magick"

func init() {
	deepzoom.RegisterSink(Name, func(cfg deepzoom.SinkConfig) (deepzoom.TileJobSink, error) {
		opts := []Option{WithInterpolation(interpolation[strings.ToLower(cfg.Interpolation)])}
		if cfg.Tool != "" {
			opts = append(opts, WithTool(cfg.Tool))
		}
		return New(cfg.OutputDir, cfg.Format, opts...)
	})
}

// interpolation maps SinkConfig names to -interpolate methods.
var interpolation = map[string]string{
	"bicubic":  "Bicubic",
	"bilinear": "Bilinear",
	"nearest":  "Nearest",
}

// Sink runs ImageMagick once or twice per job. Render may be called
// concurrently for distinct tiles.
type Sink struct {
	root   string
	format string
	interp string
	logger *slog.Logger

	convert   []string
	composite []string

	runs atomic.Int64
}

// Option configures a Sink.
type Option func(*config)

type config struct {
	tool   string
	interp string
	logger *slog.Logger
}

// WithTool runs the ImageMagick 7 "magick" binary at path instead of the
// separate "convert" and "composite" programs.
func WithTool(path string) Option {
	return func(c *config) {
		c.tool = path
	}
}

// WithInterpolation sets the -interpolate method passed to convert.
// The default is Bicubic.
func WithInterpolation(method string) Option {
	return func(c *config) {
		if method != "" {
			c.interp = method
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

// New creates a sink writing tiles in format below root. It fails with
// *deepzoom.ResourceError if the ImageMagick tools cannot be found.
func New(root, format string, opts ...Option) (*Sink, error) {
	if root == "" {
		return nil, errors.New("magick: empty output directory")
	}
	cfg := config{interp: "Bicubic", logger: deepzoom.Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Sink{root: root, format: format, interp: cfg.interp, logger: cfg.logger}
	if cfg.tool != "" {
		bin, err := lookPath(cfg.tool)
		if err != nil {
			return nil, err
		}
		s.convert = []string{bin, "convert"}
		s.composite = []string{bin, "composite"}
		return s, nil
	}
	convert, err := lookPath("convert")
	if err != nil {
		return nil, err
	}
	composite, err := lookPath("composite")
	if err != nil {
		return nil, err
	}
	s.convert = []string{convert}
	s.composite = []string{composite}
	return s, nil
}

func lookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &deepzoom.ResourceError{
			Resource: name,
			Err:      fmt.Errorf("%w: %w", deepzoom.ErrMissingRenderer, err),
		}
	}
	return path, nil
}

// Capabilities implements deepzoom.TileJobSink.
func (s *Sink) Capabilities() deepzoom.Capabilities {
	return deepzoom.Capabilities{Concurrent: true}
}

// Render implements deepzoom.TileJobSink.
func (s *Sink) Render(ctx context.Context, job deepzoom.TileRenderJob) error {
	if !job.Opaque() {
		return &deepzoom.CapabilityError{Sink: Name, Key: job.Key, Opacity: job.Opacity}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := job.Key.Path(s.root, s.format)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("magick: %w", err)
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("magick: %w", statErr)
	}

	out := path
	if exists {
		f, err := os.CreateTemp(dir, ".convert-*."+s.format)
		if err != nil {
			return fmt.Errorf("magick: %w", err)
		}
		out = f.Name()
		_ = f.Close()
		defer func() { _ = os.Remove(out) }()
	}

	if err := s.run(ctx, s.convert, s.convertArgs(job, out)...); err != nil {
		return fmt.Errorf("magick: tile %v: %w", job.Key, err)
	}
	if exists {
		if err := s.run(ctx, s.composite, out, path, path); err != nil {
			return fmt.Errorf("magick: tile %v: %w", job.Key, err)
		}
	}
	return nil
}

// convertArgs maps the source onto a transparent viewport: the source
// point SourceOffset lands on the viewport origin, scaled by job.Scale.
func (s *Sink) convertArgs(job deepzoom.TileRenderJob, out string) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		job.Source,
		"-background", "transparent",
		"-virtual-pixel", "transparent",
		"-interpolate", s.interp,
		"-define", fmt.Sprintf("distort:viewport=%dx%d+0+0", job.Viewport.Dx(), job.Viewport.Dy()),
		"-distort", "SRT", f(job.SourceOffset.X) + "," + f(job.SourceOffset.Y) + " " + f(job.Scale) + " 0 0,0",
		out,
	}
}

func (s *Sink) run(ctx context.Context, prog []string, args ...string) error {
	argv := append(prog[1:len(prog):len(prog)], args...)
	cmd := exec.CommandContext(ctx, prog[0], argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	s.runs.Add(1)
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%s: %w: %s", filepath.Base(prog[0]), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(prog[0]), err)
	}
	return nil
}

// Close implements deepzoom.TileJobSink.
func (s *Sink) Close() error {
	s.logger.Info("magick: done", slog.Int64("commands", s.runs.Load()))
	return nil
}
