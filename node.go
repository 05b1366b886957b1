package deepzoom

import (
	"fmt"
	"math"
)

// Defaults applied when a scene graph omits the optional attributes.
const (
	DefaultMinRenderWidth = 1
	DefaultFadeInLevels   = 0
)

// ImageSize is the native pixel resolution of a source image.
type ImageSize struct {
	Width, Height int
}

// NodeSpec is a scene node as read from a scene graph, before its image
// has been inspected. Optional attributes are pointers so that an absent
// value (use the default) differs from an explicit invalid one.
type NodeSpec struct {
	ImagePath string
	X, Y      float64
	Width     float64
	Height    float64
	ZOrder    int

	MinRenderWidth *int
	FadeInLevels   *int
}

// SceneNode is one source image placed on the canvas.
//
// A SceneNode is immutable: it is built fully populated by NewSceneNode
// and only read afterwards.
type SceneNode struct {
	imagePath string
	x, y      float64
	width     float64
	height    float64
	zOrder    int
	imageSize ImageSize

	minRenderWidth int
	fadeInLevels   int
}

// NewSceneNode validates spec and size and returns the resulting node.
// index is the node's position in the scene graph and is only used to
// label errors. All failures are *ConfigError.
func NewSceneNode(index int, spec NodeSpec, size ImageSize) (SceneNode, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"x", spec.X}, {"y", spec.Y}, {"width", spec.Width}, {"height", spec.Height}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return SceneNode{}, invalidNode(index, f.name, "value %v is not finite", f.v)
		}
	}
	if spec.Width <= 0 {
		return SceneNode{}, invalidNode(index, "width", "must be positive, got %v", spec.Width)
	}
	if spec.Height <= 0 {
		return SceneNode{}, invalidNode(index, "height", "must be positive, got %v", spec.Height)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return SceneNode{}, invalidNode(index, "imageSize", "image %q has size %dx%d", spec.ImagePath, size.Width, size.Height)
	}

	n := SceneNode{
		imagePath:      spec.ImagePath,
		x:              spec.X,
		y:              spec.Y,
		width:          spec.Width,
		height:         spec.Height,
		zOrder:         spec.ZOrder,
		imageSize:      size,
		minRenderWidth: DefaultMinRenderWidth,
		fadeInLevels:   DefaultFadeInLevels,
	}
	if spec.MinRenderWidth != nil {
		if *spec.MinRenderWidth <= 0 {
			return SceneNode{}, invalidNode(index, "minRenderWidthInPixels", "must be at least 1, got %d", *spec.MinRenderWidth)
		}
		n.minRenderWidth = *spec.MinRenderWidth
	}
	if spec.FadeInLevels != nil {
		if *spec.FadeInLevels < 0 {
			return SceneNode{}, invalidNode(index, "numFadeInLevels", "must not be negative, got %d", *spec.FadeInLevels)
		}
		n.fadeInLevels = *spec.FadeInLevels
	}
	return n, nil
}

// ImagePath returns the opaque handle of the node's source image.
func (n SceneNode) ImagePath() string { return n.imagePath }

// X returns the normalized left edge.
func (n SceneNode) X() float64 { return n.x }

// Y returns the normalized top edge.
func (n SceneNode) Y() float64 { return n.y }

// Width returns the normalized width.
func (n SceneNode) Width() float64 { return n.width }

// Height returns the normalized height.
func (n SceneNode) Height() float64 { return n.height }

// ZOrder returns the draw order; lower values are drawn first.
func (n SceneNode) ZOrder() int { return n.zOrder }

// ImageSize returns the native resolution of the source image.
func (n SceneNode) ImageSize() ImageSize { return n.imageSize }

// MinRenderWidth returns the smallest rendered width, in pixels, at which
// the node still appears in the pyramid.
func (n SceneNode) MinRenderWidth() int { return n.minRenderWidth }

// FadeInLevels returns the number of levels over which the node fades in.
func (n SceneNode) FadeInLevels() int { return n.fadeInLevels }

// impliedCanvasWidth is the canvas width at which this node would be
// drawn at its native resolution.
func (n SceneNode) impliedCanvasWidth() float64 {
	return float64(n.imageSize.Width) / n.width
}

func (n SceneNode) String() string {
	return fmt.Sprintf("SceneNode(%s z=%d at %g,%g size %gx%g)", n.imagePath, n.zOrder, n.x, n.y, n.width, n.height)
}

// Scene is a validated scene graph: the canvas aspect ratio and its nodes.
type Scene struct {
	AspectRatio float64
	Nodes       []SceneNode
}
