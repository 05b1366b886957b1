package image

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ErrInvalidPlacement is returned when a placement cannot map source to
// destination pixels.
var ErrInvalidPlacement = errors.New("image: invalid placement")

// Placement positions a source image on a destination tile.
//
// A destination pixel at (u, v), relative to the destination's top-left
// corner, samples the source at (OffsetX + u/Scale, OffsetY + v/Scale),
// in level-0 source pixels.
type Placement struct {
	OffsetX, OffsetY float64
	Scale            float64

	// Opacity multiplies the source alpha; 255 is opaque.
	Opacity uint8

	Interp InterpolationMode
}

func (p Placement) String() string {
	return fmt.Sprintf("Placement(offset %.3f,%.3f scale %.6g alpha %d %v)",
		p.OffsetX, p.OffsetY, p.Scale, p.Opacity, p.Interp)
}

// Composite draws src over dst according to p.
//
// The source is resampled from the mipmap level closest to p.Scale and
// blended with Porter-Duff "source over". Pixels outside the source are
// transparent and leave dst unchanged.
func Composite(dst draw.Image, src *MipmapChain, p Placement) error {
	if src == nil {
		return fmt.Errorf("%w: no source", ErrInvalidPlacement)
	}
	if !(p.Scale > 0) || math.IsInf(p.Scale, 0) ||
		math.IsNaN(p.OffsetX) || math.IsNaN(p.OffsetY) {
		return fmt.Errorf("%w: %v", ErrInvalidPlacement, p)
	}
	if p.Opacity == 0 {
		return nil
	}

	level := src.Level(src.LevelForScale(p.Scale))
	baseW, baseH := src.Size()
	// Level-0 pixels per level pixel.
	fx := float64(baseW) / float64(level.Rect.Dx())
	fy := float64(baseH) / float64(level.Rect.Dy())

	db := dst.Bounds()
	s2d := f64.Aff3{
		p.Scale * fx, 0, float64(db.Min.X) - p.OffsetX*p.Scale,
		0, p.Scale * fy, float64(db.Min.Y) - p.OffsetY*p.Scale,
	}

	var opts *draw.Options
	if p.Opacity < 255 {
		opts = &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: p.Opacity})}
	}
	p.Interp.interpolator().Transform(dst, s2d, level, level.Bounds(), draw.Over, opts)
	return nil
}
