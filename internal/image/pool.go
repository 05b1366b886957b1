package image

import (
	"image"
	"sync"
)

// Pool is a thread-safe pool for reusing tile buffers.
//
// Pool groups buffers by their dimensions. Tiles of one pyramid come in
// few sizes (full tiles plus the cut tiles along the right and bottom
// edges), so reuse is high.
//
// Thread safety: All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[image.Point][]*image.RGBA
	maxSize int // max buffers per bucket
}

// NewPool creates a new buffer pool with the given maximum buffers per
// bucket. A maxPerBucket of 0 or less means unlimited.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{
		buckets: make(map[image.Point][]*image.RGBA),
		maxSize: maxPerBucket,
	}
}

// Get retrieves a transparent buffer of the given size, reusing a pooled
// one if available. The returned buffer's bounds start at the origin.
func (p *Pool) Get(width, height int) *image.RGBA {
	key := image.Point{X: width, Y: height}

	p.mu.Lock()
	bucket := p.buckets[key]
	if n := len(bucket); n > 0 {
		buf := bucket[n-1]
		p.buckets[key] = bucket[:n-1]
		p.mu.Unlock()

		clear(buf.Pix)
		return buf
	}
	p.mu.Unlock()

	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// Put returns a buffer to the pool for reuse.
// If buf is nil or the bucket is at capacity, the buffer is discarded.
func (p *Pool) Put(buf *image.RGBA) {
	if buf == nil || buf.Rect.Min != (image.Point{}) {
		return
	}
	key := buf.Rect.Max

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[key]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		return
	}
	p.buckets[key] = append(bucket, buf)
}
