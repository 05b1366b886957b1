// Command deepzoom composes the images of a sparse image scene graph into
// one Deep Zoom pyramid.
//
// Usage:
//
//	deepzoom [flags] <scenegraph> <output>
//
// The scene graph is an XML SparseImageSceneGraph or a .scene text file,
// given as a path or an http(s) URL. Tiles are written to <output>_files
// and the descriptor to <output>.dzi.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/deepzoom"
	"github.com/gogpu/deepzoom/internal/fetch"
	"github.com/gogpu/deepzoom/scenegraph"
	_ "github.com/gogpu/deepzoom/sink/batch"
	_ "github.com/gogpu/deepzoom/sink/magick"
	"github.com/gogpu/deepzoom/sink/raster"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	sink     string
	workers  int
	format   string
	tool     string
	interp   string
	dryRun   bool
	verbose  bool
	attempts int
	lang     string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("deepzoom", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.sink, "sink", raster.Name, "tile sink: "+strings.Join(deepzoom.Sinks(), ", "))
	fs.IntVar(&o.workers, "workers", runtime.GOMAXPROCS(0), "tiles rendered in parallel by concurrent sinks")
	fs.StringVar(&o.format, "format", "png", "tile format")
	fs.StringVar(&o.tool, "tool", "", "external program of the magick or batch sink")
	fs.StringVar(&o.interp, "interp", "bicubic", "resampling filter: nearest, bilinear or bicubic")
	fs.BoolVar(&o.dryRun, "n", false, "plan only and print the jobs")
	fs.BoolVar(&o.verbose, "v", false, "log debug messages")
	fs.IntVar(&o.attempts, "attempts", fetch.DefaultAttempts, "attempts per remote download")
	fs.StringVar(&o.lang, "lang", "", "language of the summary (BCP 47); default from $LANG")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: deepzoom [flags] <scenegraph> <output>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	scenePath, out := fs.Arg(0), fs.Arg(1)

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	deepzoom.SetLogger(logger)

	if err := compose(ctx, o, scenePath, out, stdout, logger); err != nil {
		fmt.Fprintf(stderr, "deepzoom: %v\n", err)
		var ce *deepzoom.CapabilityError
		if errors.As(err, &ce) {
			fmt.Fprintln(stderr, "hint: choose a sink that supports partial opacity, e.g. -sink raster")
		}
		return exitError
	}
	return exitOK
}

func compose(ctx context.Context, o options, scenePath, out string, stdout io.Writer, logger *slog.Logger) error {
	fetcher := fetch.New(fetch.WithAttempts(o.attempts), fetch.WithLogger(logger))
	scene, err := scenegraph.Load(ctx, scenePath,
		scenegraph.WithFetcher(fetcher),
		scenegraph.WithLogger(logger))
	if err != nil {
		return err
	}

	sink, err := deepzoom.NewSink(o.sink, deepzoom.SinkConfig{
		OutputDir:     deepzoom.TilesDir(out),
		Format:        o.format,
		Tool:          o.tool,
		Interpolation: o.interp,
	})
	if err != nil {
		return err
	}

	comp := deepzoom.NewComposer(
		deepzoom.WithSink(o.sink, sink),
		deepzoom.WithWorkers(o.workers),
		deepzoom.WithFormat(o.format),
		deepzoom.WithLogger(logger),
		deepzoom.WithDryRun(o.dryRun),
	)
	res, err := comp.Compose(ctx, scene, out)
	if err != nil {
		return err
	}

	if o.dryRun {
		for _, j := range res.Jobs {
			fmt.Fprintln(stdout, j)
		}
	}
	printSummary(stdout, summaryLanguage(o.lang), len(scene.Nodes), res)
	return nil
}

// printSummary writes the run statistics with locale-aware numbers.
func printSummary(w io.Writer, tag language.Tag, nodes int, res deepzoom.Result) {
	p := message.NewPrinter(tag)
	p.Fprintf(w, "canvas %d x %d, %d levels\n", res.Canvas.Width, res.Canvas.Height, res.Stats.Levels)
	p.Fprintf(w, "%d nodes, %d tiles, %d jobs (%d fill)\n", nodes, res.Stats.Tiles, res.Stats.Jobs, res.Stats.FillJobs)
	if res.Descriptor != "" {
		p.Fprintf(w, "wrote %s in %v\n", res.Descriptor, res.Elapsed.Round(time.Millisecond))
	}
}

// summaryLanguage parses name, falling back to the POSIX locale
// environment, for example "de_DE.UTF-8".
func summaryLanguage(name string) language.Tag {
	if name == "" {
		for _, env := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
			if v := os.Getenv(env); v != "" {
				name = v
				break
			}
		}
	}
	name, _, _ = strings.Cut(name, ".")
	if name == "" || name == "C" || name == "POSIX" {
		return language.English
	}
	tag, err := language.Parse(strings.ReplaceAll(name, "_", "-"))
	if err != nil {
		return language.English
	}
	return tag
}
