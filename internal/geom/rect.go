package geom

import (
	"fmt"
	"iter"
)

// Rect is a half-open integer rectangle [X0, X1) x [Y0, Y1).
// Any rectangle with X0 >= X1 or Y0 >= Y1 is empty.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Dx returns the width of r, or 0 if r is empty.
func (r Rect) Dx() int {
	if r.Empty() {
		return 0
	}
	return r.X1 - r.X0
}

// Dy returns the height of r, or 0 if r is empty.
func (r Rect) Dy() int {
	if r.Empty() {
		return 0
	}
	return r.Y1 - r.Y0
}

// Area returns the number of integer points in r.
func (r Rect) Area() int {
	return r.Dx() * r.Dy()
}

// Empty reports whether r contains no points.
func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Intersect returns the largest rectangle contained in both r and s.
// The result may be empty.
func (r Rect) Intersect(s Rect) Rect {
	return Rect{
		X0: max(r.X0, s.X0),
		Y0: max(r.Y0, s.Y0),
		X1: min(r.X1, s.X1),
		Y1: min(r.Y1, s.Y1),
	}
}

// Contains reports whether (x, y) lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1
}

// Points yields every point of r in row-major order.
func (r Rect) Points() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		for y := r.Y0; y < r.Y1; y++ {
			for x := r.X0; x < r.X1; x++ {
				if !yield(x, y) {
					return
				}
			}
		}
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("Rect(%d,%d,%d,%d)", r.X0, r.Y0, r.X1, r.Y1)
}

// TileGrid returns the range of tiles of the given edge length that
// touch the pixel rectangle px. Outer edges are rounded up.
func TileGrid(px Rect, edge int) Rect {
	if px.Empty() {
		return Rect{}
	}
	return Rect{
		X0: px.X0 / edge,
		Y0: px.Y0 / edge,
		X1: (px.X1 + edge - 1) / edge,
		Y1: (px.Y1 + edge - 1) / edge,
	}
}

// TileBounds returns the pixel rectangle of tile (tx, ty), expanded by
// overlap on every side and clamped to level.
func TileBounds(tx, ty, edge, overlap int, level Size) Rect {
	return Rect{
		X0: Clamp(tx*edge-overlap, 0, level.W),
		Y0: Clamp(ty*edge-overlap, 0, level.H),
		X1: Clamp((tx+1)*edge+overlap, 0, level.W),
		Y1: Clamp((ty+1)*edge+overlap, 0, level.H),
	}
}
