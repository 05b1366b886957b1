package deepzoom

import (
	"image"
	"log/slog"
	"slices"

	"github.com/gogpu/deepzoom/internal/geom"
)

// nodeLevels caches the level range and per-level tile footprint of one
// node for the duration of a plan.
type nodeLevels struct {
	finest   int
	coarsest int

	// tiles[lod] is the node's TileRect; only levels in
	// [coarsest, canvas.FinestLod] are populated.
	tiles []geom.Rect
}

func (l *nodeLevels) ownsDetail(lod int) bool {
	return lod >= l.coarsest && lod <= l.finest
}

// Planner turns a scene into an ordered stream of tile render jobs.
//
// Nodes are visited in ascending z order, so every job for a given tile
// key comes after the jobs of all nodes drawn beneath it. A Planner does
// no I/O and is safe to reuse; it is not safe for concurrent Walks
// sharing one callback.
type Planner struct {
	canvas Canvas
	nodes  []SceneNode
	levels []nodeLevels
}

// NewPlanner prepares a plan for nodes on canvas c. nodes is copied and
// stably sorted by z order; the caller's slice is not modified.
func NewPlanner(c Canvas, nodes []SceneNode) *Planner {
	sorted := slices.Clone(nodes)
	slices.SortStableFunc(sorted, func(a, b SceneNode) int {
		return a.zOrder - b.zOrder
	})

	p := &Planner{
		canvas: c,
		nodes:  sorted,
		levels: make([]nodeLevels, len(sorted)),
	}
	for i, n := range sorted {
		l := nodeLevels{
			finest:   n.FinestLod(c),
			coarsest: n.CoarsestLod(c),
			tiles:    make([]geom.Rect, c.FinestLod+1),
		}
		for lod := l.coarsest; lod <= c.FinestLod; lod++ {
			l.tiles[lod] = n.TileRect(c, lod)
		}
		p.levels[i] = l

		Logger().Debug("deepzoom: node levels",
			slog.String("image", n.imagePath),
			slog.Int("z", n.zOrder),
			slog.Int("coarsest", l.coarsest),
			slog.Int("finest", l.finest))
	}
	return p
}

// Canvas returns the canvas the plan targets.
func (p *Planner) Canvas() Canvas { return p.canvas }

// Nodes returns the nodes in drawing order.
func (p *Planner) Nodes() []SceneNode { return p.nodes }

// Walk calls fn for every job in drawing order and stops at the first
// error, which it returns.
func (p *Planner) Walk(fn func(TileRenderJob) error) error {
	for i := range p.nodes {
		if err := p.walkNode(i, fn); err != nil {
			return err
		}
	}
	return nil
}

// walkNode emits the jobs of node i, from the finest level down to the
// node's coarsest level.
func (p *Planner) walkNode(i int, fn func(TileRenderJob) error) error {
	n := p.nodes[i]
	lv := &p.levels[i]

	for lod := p.canvas.FinestLod; lod >= lv.coarsest; lod-- {
		tr := lv.tiles[lod]
		if tr.Empty() {
			// Coarser levels only shrink the footprint further.
			break
		}

		fill := lod > lv.finest
		covered := p.coverage(i, lod, tr)
		if covered == nil {
			continue
		}

		level := p.canvas.LodSize(lod)
		opacity := n.opacity(lod, lv.coarsest)
		k := 0
		for x, y := range tr.Points() {
			if covered[k] {
				job := p.job(i, TileKey{Lod: lod, X: x, Y: y}, level, opacity, fill)
				if err := fn(job); err != nil {
					return err
				}
			}
			k++
		}
	}
	return nil
}

// coverage returns, for each tile of tr in row-major order, whether node
// i paints it at lod. Within its own detail range a node paints its
// whole footprint; beyond it, only tiles where another node still has
// native detail. The mask is local to this pass, so a tile reached via
// several overlapping nodes is still painted once. A nil result means
// nothing is painted.
func (p *Planner) coverage(i, lod int, tr geom.Rect) []bool {
	covered := make([]bool, tr.Area())
	if lod <= p.levels[i].finest {
		for k := range covered {
			covered[k] = true
		}
		return covered
	}

	found := false
	w := tr.Dx()
	for j := range p.nodes {
		other := &p.levels[j]
		if j == i || !other.ownsDetail(lod) {
			continue
		}
		is := tr.Intersect(other.tiles[lod])
		if is.Empty() {
			continue
		}
		for x, y := range is.Points() {
			covered[(y-tr.Y0)*w+(x-tr.X0)] = true
		}
		found = true
	}
	if !found {
		return nil
	}
	return covered
}

// job builds the render instruction of node i for key.
func (p *Planner) job(i int, key TileKey, level geom.Size, opacity uint8, fill bool) TileRenderJob {
	n := p.nodes[i]
	nr := n.LodRect(p.canvas, key.Lod)
	scale := n.Scale(p.canvas, key.Lod)

	vp := geom.TileBounds(key.X, key.Y, TileSize, TileOverlap, level)
	return TileRenderJob{
		Key:      key,
		Source:   n.imagePath,
		Node:     i,
		ZOrder:   n.zOrder,
		Viewport: image.Rect(vp.X0, vp.Y0, vp.X1, vp.Y1),
		SourceOffset: geom.Point{
			X: (float64(vp.X0) - nr.LLx) / scale,
			Y: (float64(vp.Y0) - nr.LLy) / scale,
		},
		SourceSize: geom.Point{
			X: float64(vp.Dx()) / scale,
			Y: float64(vp.Dy()) / scale,
		},
		Scale:   scale,
		Opacity: opacity,
		Fill:    fill,
	}
}

// PlanStats summarises a plan.
type PlanStats struct {
	Jobs     int
	FillJobs int

	// Tiles is the number of distinct tiles written.
	Tiles int

	// Levels is the number of levels in the pyramid.
	Levels int
}

// Plan returns every job for nodes on canvas c in drawing order.
func Plan(c Canvas, nodes []SceneNode) ([]TileRenderJob, PlanStats) {
	p := NewPlanner(c, nodes)

	var jobs []TileRenderJob
	tiles := make(map[TileKey]struct{})
	stats := PlanStats{Levels: c.FinestLod + 1}
	_ = p.Walk(func(j TileRenderJob) error {
		jobs = append(jobs, j)
		tiles[j.Key] = struct{}{}
		if j.Fill {
			stats.FillJobs++
		}
		return nil
	})
	stats.Jobs = len(jobs)
	stats.Tiles = len(tiles)
	return jobs, stats
}
