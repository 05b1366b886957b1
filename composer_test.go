package deepzoom

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fadeScene(t *testing.T) Scene {
	t.Helper()
	n := mustNode(t, NodeSpec{ImagePath: "f.png", Width: 1, Height: 1, MinRenderWidth: intPtr(8), FadeInLevels: intPtr(2)}, 600, 300)
	return Scene{AspectRatio: 2, Nodes: []SceneNode{n}}
}

func TestComposer_Compose(t *testing.T) {
	c, nodes := sideBySide(t)
	out := filepath.Join(t.TempDir(), "mosaic")

	rec := NewRecorder(Capabilities{Concurrent: true})
	res, err := NewComposer(WithSink("recorder", rec), WithWorkers(3)).
		Compose(context.Background(), Scene{AspectRatio: 2, Nodes: nodes}, out)
	if err != nil {
		t.Fatalf("Compose() = %v", err)
	}

	if res.Canvas != c {
		t.Errorf("Canvas = %v, want %v", res.Canvas, c)
	}
	if res.Stats.Jobs != 31 || len(rec.Jobs()) != 31 {
		t.Errorf("Stats.Jobs = %d, recorded %d, want 31", res.Stats.Jobs, len(rec.Jobs()))
	}
	if !rec.Closed() {
		t.Error("sink not closed")
	}
	if res.Descriptor != DescriptorPath(out) {
		t.Errorf("Descriptor = %q, want %q", res.Descriptor, DescriptorPath(out))
	}
	d, err := ReadDescriptor(res.Descriptor)
	if err != nil {
		t.Fatal(err)
	}
	if d.Width != 1024 || d.Height != 512 || d.Format != "png" {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestComposer_CapabilityPreflight(t *testing.T) {
	out := filepath.Join(t.TempDir(), "fade")
	rec := NewRecorder(Capabilities{})

	_, err := NewComposer(WithSink("opaque-only", rec)).Compose(context.Background(), fadeScene(t), out)

	var ce *CapabilityError
	if !errors.As(err, &ce) {
		t.Fatalf("Compose() = %v, want *CapabilityError", err)
	}
	if ce.Sink != "opaque-only" {
		t.Errorf("Sink = %q", ce.Sink)
	}
	if n := len(rec.Jobs()); n != 0 {
		t.Errorf("%d jobs rendered before the capability error", n)
	}
	if _, err := os.Stat(DescriptorPath(out)); !os.IsNotExist(err) {
		t.Errorf("descriptor written despite the error: %v", err)
	}
	if !rec.Closed() {
		t.Error("sink not closed after failure")
	}
}

func TestComposer_ConfigError(t *testing.T) {
	rec := NewRecorder(Capabilities{PartialOpacity: true})
	_, err := NewComposer(WithSink("rec", rec)).Compose(context.Background(), Scene{AspectRatio: 1}, t.TempDir())
	if !errors.Is(err, ErrEmptyScene) {
		t.Errorf("Compose(empty) = %v, want ErrEmptyScene", err)
	}
}

func TestComposer_NoSink(t *testing.T) {
	_, err := NewComposer().Compose(context.Background(), fadeScene(t), t.TempDir())
	if err == nil {
		t.Error("Compose() without sink succeeded")
	}
}

func TestComposer_DryRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dry")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	res, err := NewComposer(WithDryRun(true), WithLogger(logger), WithFormat("jpg")).
		Compose(context.Background(), fadeScene(t), out)
	if err != nil {
		t.Fatalf("Compose() = %v", err)
	}
	if len(res.Jobs) != res.Stats.Jobs || res.Stats.Jobs == 0 {
		t.Errorf("Jobs = %d, Stats.Jobs = %d", len(res.Jobs), res.Stats.Jobs)
	}
	if res.Descriptor != "" {
		t.Errorf("dry run wrote descriptor %q", res.Descriptor)
	}
	if _, err := os.Stat(DescriptorPath(out)); !os.IsNotExist(err) {
		t.Errorf("dry run left a descriptor: %v", err)
	}
	if !strings.Contains(logs.String(), "deepzoom: plan") {
		t.Errorf("plan not logged:\n%s", logs.String())
	}
}

func TestComposer_DryRunChecksSink(t *testing.T) {
	_, err := NewComposer(WithDryRun(true), WithSink("opaque", NewRecorder(Capabilities{}))).
		Compose(context.Background(), fadeScene(t), t.TempDir())
	if !errors.Is(err, ErrPartialOpacity) {
		t.Errorf("Compose() = %v, want ErrPartialOpacity", err)
	}
}

func TestComposer_Cancelled(t *testing.T) {
	_, nodes := sideBySide(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := NewRecorder(Capabilities{Concurrent: true})
	out := filepath.Join(t.TempDir(), "cancelled")
	_, err := NewComposer(WithSink("rec", rec)).Compose(ctx, Scene{AspectRatio: 2, Nodes: nodes}, out)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Compose() = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(DescriptorPath(out)); !os.IsNotExist(err) {
		t.Errorf("descriptor written after cancellation: %v", err)
	}
}

// queueSink holds jobs until Flush, like sinks that hand work to an
// external program.
type queueSink struct {
	*Recorder
	descriptor string
	flushErr   error
	renderErr  error

	queued          []TileRenderJob
	flushed         int
	discarded       int
	descriptorEarly bool
}

func (s *queueSink) Render(ctx context.Context, job TileRenderJob) error {
	if s.renderErr != nil {
		return s.renderErr
	}
	s.queued = append(s.queued, job)
	return nil
}

func (s *queueSink) Flush(ctx context.Context) error {
	if _, err := os.Stat(s.descriptor); err == nil {
		s.descriptorEarly = true
	}
	if s.flushErr != nil {
		s.queued = nil
		return s.flushErr
	}
	for _, j := range s.queued {
		if err := s.Recorder.Render(ctx, j); err != nil {
			return err
		}
	}
	s.flushed += len(s.queued)
	s.queued = nil
	return nil
}

func (s *queueSink) Discard() {
	s.discarded += len(s.queued)
	s.queued = nil
}

func TestComposer_FlushesBeforeDescriptor(t *testing.T) {
	_, nodes := sideBySide(t)
	out := filepath.Join(t.TempDir(), "mosaic")
	qs := &queueSink{Recorder: NewRecorder(Capabilities{PartialOpacity: true}), descriptor: DescriptorPath(out)}

	res, err := NewComposer(WithSink("queue", qs)).Compose(context.Background(), Scene{AspectRatio: 2, Nodes: nodes}, out)
	if err != nil {
		t.Fatalf("Compose() = %v", err)
	}
	if qs.flushed != res.Stats.Jobs {
		t.Errorf("flushed %d jobs, want %d", qs.flushed, res.Stats.Jobs)
	}
	if qs.descriptorEarly {
		t.Error("descriptor written before the sink was flushed")
	}
	if qs.discarded != 0 {
		t.Errorf("discarded %d jobs of a successful run", qs.discarded)
	}
	if _, err := os.Stat(res.Descriptor); err != nil {
		t.Errorf("descriptor: %v", err)
	}
}

func TestComposer_FlushError(t *testing.T) {
	_, nodes := sideBySide(t)
	out := filepath.Join(t.TempDir(), "mosaic")
	flushErr := errors.New("tiler failed")
	qs := &queueSink{Recorder: NewRecorder(Capabilities{PartialOpacity: true}), descriptor: DescriptorPath(out), flushErr: flushErr}

	res, err := NewComposer(WithSink("queue", qs)).Compose(context.Background(), Scene{AspectRatio: 2, Nodes: nodes}, out)
	if !errors.Is(err, flushErr) {
		t.Fatalf("Compose() = %v, want %v", err, flushErr)
	}
	if res.Descriptor != "" {
		t.Errorf("Descriptor = %q after a failed flush", res.Descriptor)
	}
	if _, err := os.Stat(DescriptorPath(out)); !os.IsNotExist(err) {
		t.Errorf("descriptor left on disk after a failed flush: %v", err)
	}
	if !qs.Closed() {
		t.Error("sink not closed")
	}
}

func TestComposer_DiscardsOnRenderError(t *testing.T) {
	_, nodes := sideBySide(t)
	out := filepath.Join(t.TempDir(), "mosaic")
	renderErr := errors.New("queue full")
	qs := &queueSink{Recorder: NewRecorder(Capabilities{PartialOpacity: true}), descriptor: DescriptorPath(out)}
	// One job is queued before Render starts failing.
	qs.queued = []TileRenderJob{{Key: TileKey{Lod: 10}}}
	qs.renderErr = renderErr

	_, err := NewComposer(WithSink("queue", qs)).Compose(context.Background(), Scene{AspectRatio: 2, Nodes: nodes}, out)
	if !errors.Is(err, renderErr) {
		t.Fatalf("Compose() = %v, want %v", err, renderErr)
	}
	if qs.discarded != 1 || qs.flushed != 0 {
		t.Errorf("discarded %d, flushed %d, want 1 and 0", qs.discarded, qs.flushed)
	}
	if _, err := os.Stat(DescriptorPath(out)); !os.IsNotExist(err) {
		t.Errorf("descriptor written after a render error: %v", err)
	}
}
