package image

import (
	"image"
	"math"
)

// MipmapChain holds pre-computed downscaled versions of a source image.
//
// Level 0 is the source itself; each further level halves both sides
// (rounding down, never below 1) until the larger side reaches 1 pixel.
// Downsampling from a nearby level keeps the resampling kernel small
// when a source is drawn far below its native resolution.
//
// A MipmapChain is read-only after GenerateMipmaps and safe for
// concurrent use.
type MipmapChain struct {
	levels []*image.RGBA
}

// GenerateMipmaps creates a mipmap chain from src.
//
// Each level is computed from the previous one with a 2x2 box filter on
// premultiplied pixels. Returns nil if src is nil or empty.
func GenerateMipmaps(src image.Image) *MipmapChain {
	if src == nil || src.Bounds().Empty() {
		return nil
	}
	base := ToRGBA(src)

	maxDim := max(base.Rect.Dx(), base.Rect.Dy())
	numLevels := 1 + int(math.Floor(math.Log2(float64(maxDim))))

	chain := &MipmapChain{levels: make([]*image.RGBA, numLevels)}
	chain.levels[0] = base
	for i := 1; i < numLevels; i++ {
		chain.levels[i] = downsample(chain.levels[i-1])
	}
	return chain
}

// downsample creates a half-size version of src using a box filter.
func downsample(src *image.RGBA) *image.RGBA {
	srcW, srcH := src.Rect.Dx(), src.Rect.Dy()
	dstW := max(1, srcW/2)
	dstH := max(1, srcH/2)
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	for dy := range dstH {
		sy0 := dy * 2
		sy1 := min(sy0+1, srcH-1)
		for dx := range dstW {
			sx0 := dx * 2
			sx1 := min(sx0+1, srcW-1)

			p00 := src.PixOffset(sx0, sy0)
			p10 := src.PixOffset(sx1, sy0)
			p01 := src.PixOffset(sx0, sy1)
			p11 := src.PixOffset(sx1, sy1)
			d := dst.PixOffset(dx, dy)
			for c := range 4 {
				sum := uint16(src.Pix[p00+c]) + uint16(src.Pix[p10+c]) +
					uint16(src.Pix[p01+c]) + uint16(src.Pix[p11+c])
				dst.Pix[d+c] = uint8(sum / 4)
			}
		}
	}
	return dst
}

// Level returns the mipmap at the specified level.
// Level 0 is the original image. Returns nil if level is out of range.
func (m *MipmapChain) Level(n int) *image.RGBA {
	if m == nil || n < 0 || n >= len(m.levels) {
		return nil
	}
	return m.levels[n]
}

// NumLevels returns the total number of mipmap levels in the chain.
// Returns 0 if the chain is nil.
func (m *MipmapChain) NumLevels() int {
	if m == nil {
		return 0
	}
	return len(m.levels)
}

// Size returns the size of level 0.
func (m *MipmapChain) Size() (width, height int) {
	if m == nil {
		return 0, 0
	}
	r := m.levels[0].Rect
	return r.Dx(), r.Dy()
}

// LevelForScale returns the index of the smallest level that is still
// at least as large as the source drawn at scale:
//   - scale >= 0.5: level 0
//   - scale = 0.25: level 1
//   - scale = 0.125: level 2
//
// The result is clamped to [0, NumLevels-1].
func (m *MipmapChain) LevelForScale(scale float64) int {
	if m == nil || len(m.levels) == 0 || scale >= 0.5 || !(scale > 0) {
		return 0
	}
	level := int(math.Floor(-math.Log2(scale))) - 1
	return max(0, min(level, len(m.levels)-1))
}

// Bytes returns the memory held by all levels.
func (m *MipmapChain) Bytes() int64 {
	if m == nil {
		return 0
	}
	var n int64
	for _, l := range m.levels {
		n += int64(len(l.Pix))
	}
	return n
}
