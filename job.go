package deepzoom

import (
	"fmt"
	"image"
	"path/filepath"
	"strconv"

	"github.com/gogpu/deepzoom/internal/geom"
)

// Tile geometry of the generated pyramid.
const (
	// TileSize is the content edge of a tile in pixels.
	TileSize = 254

	// TileOverlap is the border, in pixels, shared with each neighbour.
	TileOverlap = 1
)

// TileKey identifies one output tile.
type TileKey struct {
	Lod, X, Y int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d_%d", k.Lod, k.X, k.Y)
}

// Path returns the tile's file path below root, using the Deep Zoom
// layout root/<lod>/<x>_<y>.<format>.
func (k TileKey) Path(root, format string) string {
	return filepath.Join(root, strconv.Itoa(k.Lod), strconv.Itoa(k.X)+"_"+strconv.Itoa(k.Y)+"."+format)
}

// TileRenderJob instructs a sink to paint one node's contribution into
// one tile.
type TileRenderJob struct {
	Key TileKey

	// Source is the node's image handle.
	Source string

	// Node is the index of the painting node in z order; ZOrder is its
	// draw order.
	Node   int
	ZOrder int

	// Viewport is the tile's pixel region within its level, overlap
	// included. Its size is the size of the tile image.
	Viewport image.Rectangle

	// SourceOffset is the source-image coordinate that lands on the
	// viewport's top-left corner. It is negative when the node starts
	// inside the tile.
	SourceOffset geom.Point

	// SourceSize is the source-image extent covered by the viewport.
	SourceSize geom.Point

	// Scale maps source pixels to level pixels.
	Scale float64

	// Opacity is the node's alpha at this level, 255 being opaque.
	Opacity uint8

	// Fill marks a background-fill job: the node is drawn beyond its
	// native resolution because another node has detail here.
	Fill bool
}

// Opaque reports whether the job paints without partial alpha.
func (j TileRenderJob) Opaque() bool {
	return j.Opacity == 255
}

func (j TileRenderJob) String() string {
	return fmt.Sprintf("job(%v %s z=%d scale=%.4g alpha=%d)", j.Key, j.Source, j.ZOrder, j.Scale, j.Opacity)
}
