package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gogpu/deepzoom"
	"github.com/gogpu/deepzoom/internal/geom"
	intImage "github.com/gogpu/deepzoom/internal/image"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func near(a, b color.RGBA, tol int) bool {
	d := func(x, y uint8) bool {
		v := int(x) - int(y)
		return v <= tol && v >= -tol
	}
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}

func writeSolid(t *testing.T, path string, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func newSink(t *testing.T, opts ...Option) (*Sink, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "out_files")
	opts = append([]Option{WithInterpolation(intImage.InterpNearest)}, opts...)
	s, err := New(root, "png", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, root
}

func readTile(t *testing.T, s *Sink, key deepzoom.TileKey) *image.RGBA {
	t.Helper()
	img, err := intImage.LoadTile(key.Path(s.root, s.format))
	if err != nil {
		t.Fatalf("LoadTile(%v): %v", key, err)
	}
	return img
}

func TestRenderNewTile(t *testing.T) {
	src := writeSolid(t, filepath.Join(t.TempDir(), "red.png"), 4, 4, red)
	s, _ := newSink(t)
	key := deepzoom.TileKey{Lod: 3, X: 0, Y: 0}

	err := s.Render(context.Background(), deepzoom.TileRenderJob{
		Key:      key,
		Source:   src,
		Viewport: image.Rect(0, 0, 8, 8),
		Scale:    2,
		Opacity:  255,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	tile := readTile(t, s, key)
	if tile.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Fatalf("tile bounds = %v", tile.Bounds())
	}
	for _, p := range []image.Point{{0, 0}, {3, 4}, {7, 7}} {
		if c := tile.RGBAAt(p.X, p.Y); c != red {
			t.Errorf("pixel %v = %v, want red", p, c)
		}
	}
	if st := s.Stats(); st.Rendered != 1 || st.Created != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRenderOffset(t *testing.T) {
	// The node starts two pixels into the tile.
	src := writeSolid(t, filepath.Join(t.TempDir(), "red.png"), 4, 4, red)
	s, _ := newSink(t)
	key := deepzoom.TileKey{Lod: 2}

	err := s.Render(context.Background(), deepzoom.TileRenderJob{
		Key:          key,
		Source:       src,
		Viewport:     image.Rect(0, 0, 8, 4),
		SourceOffset: geom.Point{X: -2},
		Scale:        1,
		Opacity:      255,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	tile := readTile(t, s, key)
	for x := range 8 {
		want := color.RGBA{}
		if x >= 2 && x < 6 {
			want = red
		}
		if c := tile.RGBAAt(x, 1); c != want {
			t.Errorf("pixel (%d,1) = %v, want %v", x, c, want)
		}
	}
}

func TestRenderOverExisting(t *testing.T) {
	dir := t.TempDir()
	redSrc := writeSolid(t, filepath.Join(dir, "red.png"), 8, 8, red)
	blueSrc := writeSolid(t, filepath.Join(dir, "blue.png"), 4, 8, blue)
	s, _ := newSink(t)
	key := deepzoom.TileKey{Lod: 3}
	ctx := context.Background()

	jobs := []deepzoom.TileRenderJob{
		{Key: key, Source: redSrc, Viewport: image.Rect(0, 0, 8, 8), Scale: 1, Opacity: 255},
		{Key: key, Source: blueSrc, Viewport: image.Rect(0, 0, 8, 8), Scale: 1, Opacity: 128},
	}
	for _, j := range jobs {
		if err := s.Render(ctx, j); err != nil {
			t.Fatalf("Render(%v): %v", j, err)
		}
	}

	tile := readTile(t, s, key)
	blend := color.RGBA{R: 127, B: 128, A: 255}
	if c := tile.RGBAAt(1, 4); !near(c, blend, 2) {
		t.Errorf("blended pixel = %v, want about %v", c, blend)
	}
	if c := tile.RGBAAt(6, 4); c != red {
		t.Errorf("uncovered pixel = %v, want red", c)
	}
	if st := s.Stats(); st.Rendered != 2 || st.Created != 1 {
		t.Errorf("Stats = %+v, want 2 rendered, 1 created", st)
	}
}

func TestRenderSizeMismatch(t *testing.T) {
	src := writeSolid(t, filepath.Join(t.TempDir(), "red.png"), 4, 4, red)
	s, _ := newSink(t)
	ctx := context.Background()
	job := deepzoom.TileRenderJob{Key: deepzoom.TileKey{Lod: 1}, Source: src, Viewport: image.Rect(0, 0, 4, 4), Scale: 1, Opacity: 255}
	if err := s.Render(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Viewport = image.Rect(0, 0, 5, 4)
	if err := s.Render(ctx, job); err == nil {
		t.Error("expected error for a tile of a different size")
	}
}

func TestSourceDecodedOnce(t *testing.T) {
	src := writeSolid(t, filepath.Join(t.TempDir(), "red.png"), 4, 4, red)
	var opens atomic.Int32
	open := func(ctx context.Context, loc string) (io.ReadCloser, error) {
		opens.Add(1)
		return intImage.OpenFile(ctx, loc)
	}
	s, _ := newSink(t, WithOpener(open))
	ctx := context.Background()

	for x := range 3 {
		job := deepzoom.TileRenderJob{
			Key:      deepzoom.TileKey{Lod: 2, X: x},
			Source:   src,
			Viewport: image.Rect(0, 0, 4, 4),
			Scale:    1,
			Opacity:  255,
		}
		if err := s.Render(ctx, job); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("source opened %d times, want 1", n)
	}
	if st := s.Stats(); st.Cache.Hits != 2 {
		t.Errorf("cache hits = %d, want 2", st.Cache.Hits)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if s.sources.Len() != 0 {
		t.Error("Close kept decoded sources")
	}
}

func TestRenderErrors(t *testing.T) {
	s, _ := newSink(t)
	job := deepzoom.TileRenderJob{
		Source:   filepath.Join(t.TempDir(), "missing.png"),
		Viewport: image.Rect(0, 0, 4, 4),
		Scale:    1,
		Opacity:  255,
	}
	if err := s.Render(context.Background(), job); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing source: err = %v, want fs.ErrNotExist", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Render(ctx, job); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("", "png"); err == nil {
		t.Error("New with empty root: expected error")
	}
	if _, err := New(t.TempDir(), "gif"); !errors.Is(err, intImage.ErrUnsupportedFormat) {
		t.Errorf("New(gif): err = %v, want ErrUnsupportedFormat", err)
	}
	for _, format := range []string{"jpg", "jpeg"} {
		if _, err := New(t.TempDir(), format); !errors.Is(err, intImage.ErrUnsupportedFormat) {
			t.Errorf("New(%s): err = %v, want ErrUnsupportedFormat", format, err)
		}
	}
	s, err := New(t.TempDir(), "PNG")
	if err != nil {
		t.Fatalf("New(PNG): %v", err)
	}
	if caps := s.Capabilities(); !caps.PartialOpacity || !caps.Concurrent {
		t.Errorf("Capabilities = %+v", caps)
	}
}

func TestRegistered(t *testing.T) {
	cfg := deepzoom.SinkConfig{OutputDir: t.TempDir(), Format: "png", Interpolation: "bilinear"}
	sink, err := deepzoom.NewSink(Name, cfg)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if s, ok := sink.(*Sink); !ok || s.interp != intImage.InterpBilinear {
		t.Errorf("NewSink = %#v", sink)
	}

	cfg.Interpolation = "lanczos"
	if _, err := deepzoom.NewSink(Name, cfg); err == nil {
		t.Error("unknown interpolation accepted")
	}
}

func TestCompose(t *testing.T) {
	dir := t.TempDir()
	src := writeSolid(t, filepath.Join(dir, "red.png"), 300, 200, red)
	node, err := deepzoom.NewSceneNode(0, deepzoom.NodeSpec{ImagePath: src, Width: 1, Height: 1},
		deepzoom.ImageSize{Width: 300, Height: 200})
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "scene")
	s, err := New(deepzoom.TilesDir(out), "png")
	if err != nil {
		t.Fatal(err)
	}

	comp := deepzoom.NewComposer(deepzoom.WithSink(Name, s), deepzoom.WithWorkers(4))
	res, err := comp.Compose(context.Background(), deepzoom.Scene{AspectRatio: 1.5, Nodes: []deepzoom.SceneNode{node}}, out)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.Canvas.Width != 300 || res.Canvas.Height != 200 || res.Canvas.FinestLod != 9 {
		t.Fatalf("Canvas = %v", res.Canvas)
	}

	tile := readTile(t, s, deepzoom.TileKey{Lod: 9, X: 1})
	if tile.Bounds() != image.Rect(0, 0, 47, 200) {
		t.Errorf("tile 9/1_0 bounds = %v, want 47x200", tile.Bounds())
	}
	if c := tile.RGBAAt(20, 100); !near(c, red, 1) {
		t.Errorf("tile 9/1_0 centre = %v, want red", c)
	}
	if _, err := os.Stat(deepzoom.TileKey{Lod: 0}.Path(s.root, "png")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("single-pixel level 0 should have no tile, stat err = %v", err)
	}

	d, err := deepzoom.ReadDescriptor(deepzoom.DescriptorPath(out))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.Width != 300 || d.Height != 200 || d.Format != "png" {
		t.Errorf("descriptor = %+v", d)
	}
}
