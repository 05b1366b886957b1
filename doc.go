// Package deepzoom composes a Deep Zoom image pyramid from a sparse set of
// source images placed on a shared canvas.
//
// # Overview
//
// A scene is a list of nodes. Each node places one source image on a
// normalized canvas (x, y, width and height in canvas widths) with a draw
// order, a minimum render width and a fade-in level count. From the scene
// the package derives a canvas large enough to show every image at its
// native resolution and plans, level by level, which node is drawn into
// which tile. The pixels themselves are produced by a TileJobSink.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/deepzoom"
//	    "github.com/gogpu/deepzoom/scenegraph"
//	    _ "github.com/gogpu/deepzoom/sink/raster"
//	)
//
//	scene, err := scenegraph.Load(ctx, "mosaic.xml")
//	sink, err := deepzoom.NewSink("raster", deepzoom.SinkConfig{
//	    OutputDir: deepzoom.TilesDir("out/mosaic"),
//	    Format:    "png",
//	})
//	res, err := deepzoom.NewComposer(deepzoom.WithSink("raster", sink)).
//	    Compose(ctx, scene, "out/mosaic")
//
// # Levels and Tiles
//
// Level 0 is the 1x1 root; every finer level doubles the previous one,
// rounding up, until the canvas size is reached. Tiles are TileSize pixels
// square and carry a TileOverlap pixel border shared with their
// neighbours. The output follows the usual layout:
//
//	out/mosaic.dzi
//	out/mosaic_files/<level>/<x>_<y>.png
//
// # Drawing Order
//
// Nodes are drawn in ascending z order and each tile is composited in
// place, so a node drawn later covers the ones below it. A node that has
// run out of native detail is still drawn at finer levels wherever a node
// with detail overlaps it, so that the finer node does not sit on an
// empty background.
//
// # Sinks
//
// Sinks register themselves by name (see RegisterSink) the way
// database/sql drivers do. The sink packages under sink/ provide an
// in-process rasterizer, an ImageMagick driver and a batch driver for an
// external tiler. Recorder keeps jobs in memory for dry runs.
package deepzoom
