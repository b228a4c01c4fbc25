// Package classifier sorts the points of a frame into marking (obstacle) and clearing
// (free space) observations.
package classifier

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/viam-modules/depth-layer/cameramodel"
	"github.com/viam-modules/depth-layer/groundplane"
)

const (
	// minSupportingNeighbors of the 8 grid neighbours must be close to a point for it to mark.
	minSupportingNeighbors = 7
	// neighborTolerance is the per axis distance, in depth units, within which a neighbour
	// supports a point.
	neighborTolerance = 0.1

	// DefaultSkipRays is the default edge margin on every side of the image.
	DefaultSkipRays = 20
	// DefaultObservationSeparationThreshold is the default distance below which points are floor.
	DefaultObservationSeparationThreshold = 0.06
)

// Config controls the classification of a frame's points.
type Config struct {
	// ObservationSeparationThreshold is the distance from the ground plane within which a
	// point is floor and never marks.
	ObservationSeparationThreshold float64
	// Pixel margins along each image edge whose rays never mark.
	SkipRaysTop    int
	SkipRaysBottom int
	SkipRaysLeft   int
	SkipRaysRight  int
	// ClearWithSkippedRays also clears with the rays inside the edge margins.
	ClearWithSkippedRays bool
}

// DefaultConfig returns the classification defaults.
func DefaultConfig() Config {
	return Config{
		ObservationSeparationThreshold: DefaultObservationSeparationThreshold,
		SkipRaysTop:                    DefaultSkipRays,
		SkipRaysBottom:                 DefaultSkipRays,
		SkipRaysLeft:                   DefaultSkipRays,
		SkipRaysRight:                  DefaultSkipRays,
	}
}

// Result holds the points of one frame in row-major pixel order.
type Result struct {
	Marking  []r3.Vector
	Clearing []r3.Vector
}

func (cfg Config) inEdge(row, col, rows, cols int) bool {
	return row < cfg.SkipRaysTop ||
		row >= rows-cfg.SkipRaysBottom ||
		col < cfg.SkipRaysLeft ||
		col >= cols-cfg.SkipRaysRight
}

// Classify walks every valid point of the grid. Every valid point outside the edge margins
// clears; those further than the separation threshold from the ground plane and with enough
// close neighbours also mark.
func Classify(grid *cameramodel.Grid, plane groundplane.Plane, cfg Config) Result {
	var result Result
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			p := grid.At(row, col)
			if !cameramodel.ValidPoint(p) {
				continue
			}

			// Edge rays are noisy. Unless ClearWithSkippedRays is set they are dropped from
			// clearing as well as marking, since the clearing append below happens after the
			// edge check.
			if cfg.ClearWithSkippedRays {
				result.Clearing = append(result.Clearing, p)
			}
			if cfg.inEdge(row, col, grid.Rows, grid.Cols) {
				continue
			}
			if !cfg.ClearWithSkippedRays {
				result.Clearing = append(result.Clearing, p)
			}

			if math.Abs(plane.Distance(p)) <= cfg.ObservationSeparationThreshold {
				continue
			}

			if supportingNeighbors(grid, row, col, p) >= minSupportingNeighbors {
				result.Marking = append(result.Marking, p)
			}
		}
	}
	return result
}

// supportingNeighbors counts the valid 8-neighbours of (row, col) within neighborTolerance of p
// on every axis. Neighbours outside the grid do not count.
func supportingNeighbors(grid *cameramodel.Grid, row, col int, p r3.Vector) int {
	count := 0
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			if !grid.Valid(row+dr, col+dc) {
				continue
			}
			n := grid.At(row+dr, col+dc)
			if math.Abs(n.X-p.X) < neighborTolerance &&
				math.Abs(n.Y-p.Y) < neighborTolerance &&
				math.Abs(n.Z-p.Z) < neighborTolerance {
				count++
			}
		}
	}
	return count
}
