package groundplane

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	"github.com/viam-modules/depth-layer/cameramodel"
)

// Defaults of the block plane finder.
const (
	DefaultBlockSize    = 40
	DefaultMinSize      = 1000
	DefaultSensorErrorA = 0.0075
	DefaultSensorErrorB = 0.0
	DefaultSensorErrorC = 0.0

	// normals within roughly 25 degrees are considered to describe the same plane
	normalAgreement = 0.9
)

// GeometricConfig parameterizes plane finding over a point grid.
type GeometricConfig struct {
	// BlockSize is the side in pixels of the square blocks planes are seeded from. Frames whose
	// size is not a multiple of it leave their trailing rows and columns unseeded.
	BlockSize int
	// MinSize is the number of supporting pixels a plane needs to be a candidate.
	MinSize int
	// Threshold is the distance a point can be from a plane and still belong to it.
	Threshold float64
	// OrientationThreshold bounds, per axis, how far the ground normal may be from (0, -1, 0).
	OrientationThreshold float64
	// The expected depth noise at depth z is SensorErrorA*z^2 + SensorErrorB*z + SensorErrorC.
	SensorErrorA float64
	SensorErrorB float64
	SensorErrorC float64
}

// DefaultGeometricConfig returns the block plane finder defaults for the given thresholds.
func DefaultGeometricConfig(threshold, orientationThreshold float64) GeometricConfig {
	return GeometricConfig{
		BlockSize:            DefaultBlockSize,
		MinSize:              DefaultMinSize,
		Threshold:            threshold,
		OrientationThreshold: orientationThreshold,
		SensorErrorA:         DefaultSensorErrorA,
		SensorErrorB:         DefaultSensorErrorB,
		SensorErrorC:         DefaultSensorErrorC,
	}
}

// Geometric finds the ground plane by fitting planes to the frame's points.
type Geometric struct {
	cfg GeometricConfig
}

// NewGeometric returns a Geometric estimator.
func NewGeometric(cfg GeometricConfig) *Geometric {
	return &Geometric{cfg: cfg}
}

// EstimateGroundPlane returns the first candidate plane, largest first, whose orientation
// matches the floor, or NoPlane.
func (g *Geometric) EstimateGroundPlane(ctx context.Context, grid *cameramodel.Grid, frameID string) (Plane, error) {
	_, span := trace.StartSpan(ctx, "depthlayer::groundplane::Geometric::EstimateGroundPlane")
	defer span.End()

	if grid == nil {
		return NoPlane, nil
	}
	for _, candidate := range g.FindPlanes(grid, ComputeNormals(grid)) {
		if candidate.IsGroundOrientation(g.cfg.OrientationThreshold) {
			return candidate, nil
		}
	}
	return NoPlane, nil
}

// ComputeNormals returns a unit surface normal per grid cell, facing the camera, from the cell's
// horizontal and vertical neighbours. Cells without enough valid neighbours get the zero vector.
func ComputeNormals(grid *cameramodel.Grid) []r3.Vector {
	normals := make([]r3.Vector, len(grid.Points))
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			if !grid.Valid(row, col) {
				continue
			}
			p := grid.At(row, col)
			dx, okX := difference(grid, p, row, col-1, row, col+1)
			dy, okY := difference(grid, p, row-1, col, row+1, col)
			if !okX || !okY {
				continue
			}
			n := dx.Cross(dy)
			if n.Norm() == 0 {
				continue
			}
			n = n.Normalize()
			if n.Dot(p) > 0 {
				n = n.Mul(-1)
			}
			normals[row*grid.Cols+col] = n
		}
	}
	return normals
}

// difference returns the central difference between two neighbours of p, falling back to a
// one sided difference when only one of them is valid.
func difference(grid *cameramodel.Grid, p r3.Vector, r0, c0, r1, c1 int) (r3.Vector, bool) {
	before, after := grid.Valid(r0, c0), grid.Valid(r1, c1)
	switch {
	case before && after:
		return grid.At(r1, c1).Sub(grid.At(r0, c0)), true
	case after:
		return grid.At(r1, c1).Sub(p), true
	case before:
		return p.Sub(grid.At(r0, c0)), true
	default:
		return r3.Vector{}, false
	}
}

type block struct {
	row, col int
	stats    planeStats
	plane    Plane
	rms      float64
	planar   bool
}

type candidate struct {
	plane   Plane
	stats   planeStats
	support int
}

// FindPlanes returns the planes of the grid supported by at least MinSize pixels, ordered by
// decreasing support.
func (g *Geometric) FindPlanes(grid *cameramodel.Grid, normals []r3.Vector) []Plane {
	bs := g.cfg.BlockSize
	if bs <= 0 || grid.Rows < bs || grid.Cols < bs {
		return nil
	}
	blockRows, blockCols := grid.Rows/bs, grid.Cols/bs

	blocks := make([]*block, 0, blockRows*blockCols)
	for br := 0; br < blockRows; br++ {
		for bc := 0; bc < blockCols; bc++ {
			blocks = append(blocks, g.fitBlock(grid, normals, br, bc))
		}
	}

	clusters := g.growClusters(blocks, blockRows, blockCols)
	return g.assignPixels(grid, normals, clusters)
}

func (g *Geometric) fitBlock(grid *cameramodel.Grid, normals []r3.Vector, br, bc int) *block {
	bs := g.cfg.BlockSize
	b := &block{row: br, col: bc}
	for row := br * bs; row < (br+1)*bs; row++ {
		for col := bc * bs; col < (bc+1)*bs; col++ {
			if grid.Valid(row, col) && normals[row*grid.Cols+col] != (r3.Vector{}) {
				b.stats.add(grid.At(row, col))
			}
		}
	}
	// at least half of a block must hold usable points to seed a plane
	if b.stats.n < float64(bs*bs)/2 {
		return b
	}
	plane, rms, ok := b.stats.fit()
	if !ok {
		return b
	}
	b.plane, b.rms = plane, rms
	b.planar = rms <= g.sensorError(b.stats.centroid().Z)
	return b
}

func (g *Geometric) sensorError(z float64) float64 {
	return g.cfg.SensorErrorA*z*z + g.cfg.SensorErrorB*z + g.cfg.SensorErrorC
}

// growClusters merges 4-connected planar blocks, flattest first, while their normals agree and
// their centroids stay within Threshold of the growing cluster's plane.
func (g *Geometric) growClusters(blocks []*block, blockRows, blockCols int) []*candidate {
	order := make([]*block, 0, len(blocks))
	for _, b := range blocks {
		if b.planar {
			order = append(order, b)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].rms < order[j].rms })

	assigned := make([]bool, len(blocks))
	var clusters []*candidate
	for _, seed := range order {
		if assigned[seed.row*blockCols+seed.col] {
			continue
		}
		assigned[seed.row*blockCols+seed.col] = true
		cluster := &candidate{plane: seed.plane, stats: seed.stats}

		queue := []*block{seed}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, next := range [][2]int{
				{current.row - 1, current.col}, {current.row + 1, current.col},
				{current.row, current.col - 1}, {current.row, current.col + 1},
			} {
				if next[0] < 0 || next[0] >= blockRows || next[1] < 0 || next[1] >= blockCols {
					continue
				}
				idx := next[0]*blockCols + next[1]
				neighbor := blocks[idx]
				if assigned[idx] || !neighbor.planar {
					continue
				}
				if math.Abs(neighbor.plane.Normal().Dot(cluster.plane.Normal())) < normalAgreement ||
					math.Abs(cluster.plane.Distance(neighbor.stats.centroid())) > g.cfg.Threshold {
					continue
				}
				assigned[idx] = true
				cluster.stats.merge(&neighbor.stats)
				if refit, _, ok := cluster.stats.fit(); ok {
					cluster.plane = refit
				}
				queue = append(queue, neighbor)
			}
		}
		clusters = append(clusters, cluster)
	}

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].stats.n > clusters[j].stats.n })
	return clusters
}

// assignPixels gives each valid pixel to the first cluster plane it lies on, refits every plane
// on its pixels and keeps those with at least MinSize of them.
func (g *Geometric) assignPixels(grid *cameramodel.Grid, normals []r3.Vector, clusters []*candidate) []Plane {
	for _, cluster := range clusters {
		cluster.stats = planeStats{}
	}
	for i, p := range grid.Points {
		if !cameramodel.ValidPoint(p) {
			continue
		}
		for _, cluster := range clusters {
			if math.Abs(cluster.plane.Distance(p)) > g.cfg.Threshold {
				continue
			}
			if n := normals[i]; n != (r3.Vector{}) && math.Abs(n.Dot(cluster.plane.Normal())) < normalAgreement {
				continue
			}
			cluster.support++
			cluster.stats.add(p)
			break
		}
	}

	kept := make([]*candidate, 0, len(clusters))
	for _, cluster := range clusters {
		if cluster.support < g.cfg.MinSize {
			continue
		}
		if refit, _, ok := cluster.stats.fit(); ok {
			cluster.plane = refit
		}
		kept = append(kept, cluster)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].support > kept[j].support })

	planes := make([]Plane, 0, len(kept))
	for _, cluster := range kept {
		planes = append(planes, cluster.plane)
	}
	return planes
}
