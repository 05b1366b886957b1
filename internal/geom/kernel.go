// Package geom implements the integer arithmetic behind the deep zoom
// pyramid: level counts, round-up halving, clamping and tile grids.
//
// All level sizes are derived with exact integer operations so that a
// level computed from the finest size agrees bit-for-bit no matter which
// caller computed it.
package geom

import "fmt"

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

// Point is a real-valued coordinate pair.
type Point struct {
	X, Y float64
}

// CeilLog2 returns the smallest r >= 0 such that x <= 2^r.
// Values of x less than or equal to 1 yield 0.
func CeilLog2(x int) int {
	r := 0
	for r < 62 && x > 1<<r {
		r++
	}
	return r
}

// DivPow2RoundUp returns x / 2^n rounded up.
// n must be non-negative.
func DivPow2RoundUp(x, n int) int {
	if n <= 0 {
		return x
	}
	if n >= 62 {
		if x > 0 {
			return 1
		}
		return 0
	}
	return (x + (1 << n) - 1) >> n
}

// FinestLod returns the index of the level holding size at native
// resolution.
func FinestLod(size Size) int {
	return CeilLog2(max(size.W, size.H))
}

// LodSize returns the pixel size of level lod of a pyramid whose finest
// level is finest and has the given size.
//
// LodSize panics if lod is outside [0, finest]; callers derive lod from
// the same pyramid, so an out-of-range level is a programming error.
func LodSize(size Size, finest, lod int) Size {
	if lod < 0 || lod > finest {
		panic(fmt.Sprintf("geom: level %d outside [0, %d]", lod, finest))
	}
	shift := finest - lod
	return Size{
		W: DivPow2RoundUp(size.W, shift),
		H: DivPow2RoundUp(size.H, shift),
	}
}

// Clamp returns v limited to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampFloat returns v limited to [lo, hi].
func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
