// Package batch hands tile jobs to an external tiler program in runs.
//
// Consecutive jobs that share a source image are written to a job list,
// one line per job:
//
//	<output> <viewportW> <viewportH> <srcX> <srcY> <scale> <opacity>
//
// and the tiler is run as "tiler <source> <joblist>" when the source
// changes or the sink is closed. The tiler composites each line over the
// existing tile in order, so the source is decoded once per run.
//
// Importing the package registers the sink as "batch".
package batch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/deepzoom"
)

// Name is the registry name of the sink.
const Name = "batch"

// DefaultTool is the tiler looked up in PATH when none is configured.
const DefaultTool = "tiler"

func init() {
	deepzoom.RegisterSink(Name, func(cfg deepzoom.SinkConfig) (deepzoom.TileJobSink, error) {
		return New(cfg.OutputDir, cfg.Format, WithTool(cfg.Tool))
	})
}

var _ deepzoom.BufferedSink = (*Sink)(nil)

// Sink buffers the jobs of one source at a time. It is not safe for
// concurrent use; deepzoom.Dispatch calls it from one goroutine.
type Sink struct {
	root   string
	format string
	tool   string
	tmpDir string
	logger *slog.Logger

	mu     sync.Mutex
	source string
	list   *os.File
	buf    *bufio.Writer
	queued int
	runs   int
	jobs   int
}

// Option configures a Sink.
type Option func(*config)

type config struct {
	tool   string
	tmpDir string
	logger *slog.Logger
}

// WithTool sets the tiler program. An empty path keeps DefaultTool.
func WithTool(path string) Option {
	return func(c *config) {
		if path != "" {
			c.tool = path
		}
	}
}

// WithTempDir sets where job lists are written. The default is
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tmpDir = dir
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
// *deepzoom.ResourceError if the tiler cannot be found.
func New(root, format string, opts ...Option) (*Sink, error) {
	if root == "" {
		return nil, errors.New("batch: empty output directory")
	}
	if strings.ContainsAny(root, " \t\n") {
		return nil, fmt.Errorf("batch: output directory %q contains whitespace", root)
	}
	cfg := config{tool: DefaultTool, logger: deepzoom.Logger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	tool, err := exec.LookPath(cfg.tool)
	if err != nil {
		return nil, &deepzoom.ResourceError{
			Resource: cfg.tool,
			Err:      fmt.Errorf("%w: %w", deepzoom.ErrMissingRenderer, err),
		}
	}
	return &Sink{
		root:   root,
		format: format,
		tool:   tool,
		tmpDir: cfg.tmpDir,
		logger: cfg.logger,
	}, nil
}

// Capabilities implements deepzoom.TileJobSink.
func (s *Sink) Capabilities() deepzoom.Capabilities {
	return deepzoom.Capabilities{PartialOpacity: true}
}

// Render implements deepzoom.TileJobSink. The job is queued; it is
// rendered when the run of its source ends.
func (s *Sink) Render(ctx context.Context, job deepzoom.TileRenderJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.list != nil && job.Source != s.source {
		if err := s.flushLocked(ctx); err != nil {
			return err
		}
	}
	if s.list == nil {
		f, err := os.CreateTemp(s.tmpDir, "deepzoom-jobs-*.txt")
		if err != nil {
			return fmt.Errorf("batch: %w", err)
		}
		s.list, s.buf, s.source = f, bufio.NewWriter(f), job.Source
	}

	out := job.Key.Path(s.root, s.format)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	if _, err := s.buf.WriteString(jobLine(out, job)); err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	s.queued++
	return nil
}

// jobLine formats job for the tiler.
func jobLine(out string, job deepzoom.TileRenderJob) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return strings.Join([]string{
		out,
		strconv.Itoa(job.Viewport.Dx()),
		strconv.Itoa(job.Viewport.Dy()),
		f(job.SourceOffset.X),
		f(job.SourceOffset.Y),
		f(job.Scale),
		strconv.Itoa(int(job.Opacity)),
	}, " ") + "\n"
}

// flushLocked runs the tiler over the queued jobs and discards the list.
func (s *Sink) flushLocked(ctx context.Context) error {
	if s.list == nil {
		return nil
	}
	list, buf, source, n := s.list, s.buf, s.source, s.queued
	s.list, s.buf, s.source, s.queued = nil, nil, "", 0
	defer func() { _ = os.Remove(list.Name()) }()

	flushErr := buf.Flush()
	if err := list.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	if flushErr != nil {
		return fmt.Errorf("batch: write job list: %w", flushErr)
	}

	cmd := exec.CommandContext(ctx, s.tool, source, list.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("batch: %s %s: %w: %s", filepath.Base(s.tool), source, err, msg)
		}
		return fmt.Errorf("batch: %s %s: %w", filepath.Base(s.tool), source, err)
	}
	s.runs++
	s.jobs += n
	s.logger.Debug("batch: tiler run", slog.String("source", source), slog.Int("jobs", n))
	return nil
}

// Flush implements deepzoom.BufferedSink. It renders the queued jobs now.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Discard implements deepzoom.BufferedSink. Queued jobs are dropped and
// the tiler is not run for them.
func (s *Sink) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		return
	}
	_ = s.list.Close()
	_ = os.Remove(s.list.Name())
	s.logger.Debug("batch: discarded jobs", slog.String("source", s.source), slog.Int("jobs", s.queued))
	s.list, s.buf, s.source, s.queued = nil, nil, "", 0
}

// Close implements deepzoom.TileJobSink. It renders any queued jobs.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.flushLocked(context.Background())
	s.logger.Info("batch: done", slog.Int("runs", s.runs), slog.Int("jobs", s.jobs))
	return err
}
