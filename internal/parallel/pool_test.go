package parallel

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Pool Creation Tests
// =============================================================================

func TestPool_Create(t *testing.T) {
	if got := NewPool(4).Workers(); got != 4 {
		t.Errorf("Workers() = %d, want 4", got)
	}
}

func TestPool_CreateDefaultWorkers(t *testing.T) {
	want := runtime.GOMAXPROCS(0)
	for _, n := range []int{0, -5} {
		if got := NewPool(n).Workers(); got != want {
			t.Errorf("NewPool(%d).Workers() = %d, want %d (GOMAXPROCS)", n, got, want)
		}
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestPool_RunAll(t *testing.T) {
	pool := NewPool(4)

	var counter atomic.Int64
	batches := make([]Batch, 100)
	for i := range batches {
		batches[i] = func(context.Context) error {
			counter.Add(1)
			return nil
		}
	}

	if err := pool.Run(context.Background(), batches); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestPool_RunEmpty(t *testing.T) {
	pool := NewPool(2)
	if err := pool.Run(context.Background(), nil); err != nil {
		t.Errorf("Run(nil) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run(cancelled, nil) = %v, want context.Canceled", err)
	}
}

func TestPool_RunRespectsLimit(t *testing.T) {
	pool := NewPool(3)

	var active, peak atomic.Int64
	batches := make([]Batch, 30)
	for i := range batches {
		batches[i] = func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil
		}
	}

	if err := pool.Run(context.Background(), batches); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestPool_BatchIsSequential(t *testing.T) {
	pool := NewPool(8)

	var mu sync.Mutex
	got := make(map[int][]int)
	var batches []Batch
	for b := range 16 {
		batches = append(batches, func(context.Context) error {
			for step := range 10 {
				mu.Lock()
				got[b] = append(got[b], step)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := pool.Run(context.Background(), batches); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	for b := range 16 {
		if !slices.Equal(got[b], want) {
			t.Errorf("batch %d steps = %v, want %v", b, got[b], want)
		}
	}
}

// =============================================================================
// Error and Cancellation Tests
// =============================================================================

func TestPool_FirstErrorStopsRun(t *testing.T) {
	pool := NewPool(1)
	boom := errors.New("boom")

	var ran atomic.Int64
	batches := []Batch{
		func(context.Context) error { ran.Add(1); return nil },
		func(context.Context) error { ran.Add(1); return boom },
	}
	for range 50 {
		batches = append(batches, func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	err := pool.Run(context.Background(), batches)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
	// With one worker at most the batch already queued behind the failure
	// can still start.
	if ran.Load() > 3 {
		t.Errorf("%d batches ran after failure, want at most 3", ran.Load())
	}
}

func TestPool_ParentCancel(t *testing.T) {
	pool := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Int64
	batches := make([]Batch, 100)
	for i := range batches {
		batches[i] = func(ctx context.Context) error {
			if ran.Add(1) == 5 {
				cancel()
			}
			return nil
		}
	}

	err := pool.Run(ctx, batches)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if ran.Load() == 100 {
		t.Error("all batches ran despite cancellation")
	}
}

// =============================================================================
// Group Tests
// =============================================================================

func TestGroup(t *testing.T) {
	type item struct {
		key string
		seq int
	}
	items := []item{{"a", 0}, {"b", 1}, {"a", 2}, {"c", 3}, {"b", 4}, {"a", 5}}
	groups := Group(items, func(it item) string { return it.key })

	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	want := [][]int{{0, 2, 5}, {1, 4}, {3}}
	for i, g := range groups {
		var seqs []int
		for _, it := range g {
			seqs = append(seqs, it.seq)
		}
		if !slices.Equal(seqs, want[i]) {
			t.Errorf("group %d = %v, want %v", i, seqs, want[i])
		}
	}

	if got := Group([]int(nil), func(i int) int { return i }); len(got) != 0 {
		t.Errorf("Group(nil) = %v, want empty", got)
	}
}
