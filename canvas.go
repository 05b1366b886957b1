package deepzoom

import (
	"fmt"
	"math"

	"github.com/gogpu/deepzoom/internal/geom"
)

// MaxCanvasDimension bounds the composite canvas so that tile and pixel
// arithmetic cannot overflow.
const MaxCanvasDimension = 1 << 30

// Canvas is the composite image the pyramid is built for.
type Canvas struct {
	Width       int
	Height      int
	AspectRatio float64

	// FinestLod is the level at which the canvas has its full size.
	FinestLod int
}

// NewCanvas derives the composite canvas from the scene nodes.
//
// The width is the largest canvas width implied by any node being drawn
// at its native resolution, so no node is upsampled at the finest level.
// The height follows from aspect.
func NewCanvas(nodes []SceneNode, aspect float64) (Canvas, error) {
	if len(nodes) == 0 {
		return Canvas{}, &ConfigError{Node: -1, Err: ErrEmptyScene}
	}
	if math.IsNaN(aspect) || math.IsInf(aspect, 0) || aspect <= 0 {
		return Canvas{}, &ConfigError{Node: -1, Field: "aspectRatio", Err: fmt.Errorf("%w: %v", ErrInvalidAspect, aspect)}
	}

	maxWidth := 0.0
	for _, n := range nodes {
		maxWidth = max(maxWidth, n.impliedCanvasWidth())
	}

	w := math.Ceil(maxWidth)
	h := math.Ceil(w / aspect)
	if !(w >= 1 && h >= 1) || w > MaxCanvasDimension || h > MaxCanvasDimension {
		return Canvas{}, &ConfigError{Node: -1, Err: fmt.Errorf("%w: %vx%v", ErrDegenerateCanvas, w, h)}
	}

	c := Canvas{
		Width:       int(w),
		Height:      int(h),
		AspectRatio: aspect,
	}
	c.FinestLod = geom.FinestLod(c.size())
	return c, nil
}

func (c Canvas) size() geom.Size {
	return geom.Size{W: c.Width, H: c.Height}
}

// LodSize returns the pixel size of level lod.
// It panics if lod is outside [0, c.FinestLod].
func (c Canvas) LodSize(lod int) geom.Size {
	return geom.LodSize(c.size(), c.FinestLod, lod)
}

// LodBounds returns the pixel rectangle of level lod.
func (c Canvas) LodBounds(lod int) geom.Rect {
	s := c.LodSize(lod)
	return geom.Rect{X1: s.W, Y1: s.H}
}

// TileCount returns the number of tiles in level lod.
func (c Canvas) TileCount(lod int) int {
	return geom.TileGrid(c.LodBounds(lod), TileSize).Area()
}

func (c Canvas) String() string {
	return fmt.Sprintf("Canvas(%dx%d, levels 0..%d)", c.Width, c.Height, c.FinestLod)
}
