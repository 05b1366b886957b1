// Package image decodes source images, composites them into tiles and
// stores the tiles.
//
// Pixels live in standard library images; resampling and compositing are
// done with golang.org/x/image/draw.
package image

import (
	"fmt"
	"strings"

	"golang.org/x/image/draw"
)

// InterpolationMode defines how source pixels are resampled.
type InterpolationMode uint8

const (
	// InterpBicubic resamples with the Catmull-Rom kernel.
	// Highest quality and the default.
	InterpBicubic InterpolationMode = iota

	// InterpBilinear resamples with the bilinear kernel.
	InterpBilinear

	// InterpNearest selects the closest pixel (no interpolation).
	// Fast but produces blocky results when scaling.
	InterpNearest
)

// String returns a string representation of the interpolation mode.
func (m InterpolationMode) String() string {
	switch m {
	case InterpNearest:
		return "Nearest"
	case InterpBilinear:
		return "Bilinear"
	case InterpBicubic:
		return "Bicubic"
	default:
		return "Unknown"
	}
}

// ParseInterpolation maps a name such as "bicubic" to its mode.
// The empty string selects InterpBicubic.
func ParseInterpolation(name string) (InterpolationMode, error) {
	switch strings.ToLower(name) {
	case "", "bicubic", "catmullrom":
		return InterpBicubic, nil
	case "bilinear", "linear":
		return InterpBilinear, nil
	case "nearest":
		return InterpNearest, nil
	default:
		return 0, fmt.Errorf("image: unknown interpolation %q", name)
	}
}

// interpolator returns the x/image kernel of m.
func (m InterpolationMode) interpolator() draw.Interpolator {
	switch m {
	case InterpNearest:
		return draw.NearestNeighbor
	case InterpBilinear:
		return draw.BiLinear
	default:
		return draw.CatmullRom
	}
}
