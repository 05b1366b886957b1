package deepzoom

import (
	"math"

	"seehuhn.de/go/geom/rect"

	"github.com/gogpu/deepzoom/internal/geom"
)

// FinestLod returns the coarsest level at which n is drawn at or above
// its native resolution. Finer levels still draw n, upsampled.
func (n SceneNode) FinestLod(c Canvas) int {
	ratio := float64(c.Width) * n.width / float64(n.imageSize.Width)
	lod := c.FinestLod - int(math.Floor(math.Log2(ratio)))
	return geom.Clamp(lod, 0, c.FinestLod)
}

// CoarsestLod returns the coarsest level at which n is drawn at least
// MinRenderWidth pixels wide. It is never finer than FinestLod.
func (n SceneNode) CoarsestLod(c Canvas) int {
	lod := n.FinestLod(c)
	minWidth := float64(n.minRenderWidth)
	for lod > 0 && n.width*float64(c.LodSize(lod-1).W) >= minWidth {
		lod--
	}
	return lod
}

// LodRect returns the real-valued pixel bounds of n at level lod.
// Level coordinates grow downwards, so LLx/LLy is the minimum corner
// (top-left on screen) and URx/URy the maximum one.
func (n SceneNode) LodRect(c Canvas, lod int) rect.Rect {
	s := c.LodSize(lod)
	w, h := float64(s.W), float64(s.H)
	return rect.Rect{
		LLx: n.x * w,
		LLy: n.y * h,
		URx: (n.x + n.width) * w,
		URy: (n.y + n.height) * h,
	}
}

// DiscreteLodRect returns the pixels n touches at level lod, clamped to
// the level.
func (n SceneNode) DiscreteLodRect(c Canvas, lod int) geom.Rect {
	s := c.LodSize(lod)
	r := n.LodRect(c, lod)
	return geom.Rect{
		X0: clampPixel(math.Floor(r.LLx), s.W),
		Y0: clampPixel(math.Floor(r.LLy), s.H),
		X1: clampPixel(math.Ceil(r.URx), s.W),
		Y1: clampPixel(math.Ceil(r.URy), s.H),
	}
}

// TileRect returns the tiles n touches at level lod. The result is the
// empty Rect once n covers at most one pixel.
func (n SceneNode) TileRect(c Canvas, lod int) geom.Rect {
	px := n.DiscreteLodRect(c, lod)
	if px.Area() <= 1 {
		return geom.Rect{}
	}
	return geom.TileGrid(px, TileSize)
}

// Scale returns the factor mapping source pixels to pixels of level lod.
func (n SceneNode) Scale(c Canvas, lod int) float64 {
	return n.LodRect(c, lod).Dx() / float64(n.imageSize.Width)
}

// opacity returns the fade-in alpha of n at lod given its coarsest level.
func (n SceneNode) opacity(lod, coarsest int) uint8 {
	a := 255 * (lod - coarsest + 1) / (n.fadeInLevels + 1)
	return uint8(geom.Clamp(a, 0, 255))
}

// clampPixel converts an already rounded coordinate to int within [0, limit].
func clampPixel(v float64, limit int) int {
	if v <= 0 {
		return 0
	}
	if v >= float64(limit) {
		return limit
	}
	return int(v)
}
