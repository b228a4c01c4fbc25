// Package cameramodel back-projects depth frames into grids of 3D points in the camera
// optical frame.
package cameramodel

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"

	s "github.com/viam-modules/depth-layer/sensors"
)

// ClearDistance is the depth substituted for NaN samples when they are used for clearing.
const ClearDistance = 25.0

// Grid holds one 3D point per depth sample, indexed by (row, col). Samples without a return
// are stored as the zero vector.
type Grid struct {
	Rows   int
	Cols   int
	Points []r3.Vector
}

// NewGrid returns a grid of zero (invalid) points.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Points: make([]r3.Vector, rows*cols)}
}

// At returns the point at (row, col).
func (g *Grid) At(row, col int) r3.Vector {
	return g.Points[row*g.Cols+col]
}

// Set stores the point at (row, col).
func (g *Grid) Set(row, col int, p r3.Vector) {
	g.Points[row*g.Cols+col] = p
}

// InBounds reports whether (row, col) lies inside the grid.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Rows && col >= 0 && col < g.Cols
}

// ValidPoint reports whether a point carries a return. A coordinate of exactly zero is
// indistinguishable from no return, so a point on the optical axis planes is invalid too.
func ValidPoint(p r3.Vector) bool {
	return p.X != 0 && p.Y != 0 && p.Z != 0 &&
		!math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z)
}

// Valid reports whether (row, col) is inside the grid and holds a valid point.
func (g *Grid) Valid(row, col int) bool {
	return g.InBounds(row, col) && ValidPoint(g.At(row, col))
}

// ClearNaNs replaces every NaN sample of the frame with distance, in place, so that rays
// without a return clear space instead of being unknown.
func ClearNaNs(frame s.DepthFrame, distance float32) {
	for i, d := range frame.Depth {
		if math.IsNaN(float64(d)) {
			frame.Depth[i] = distance
		}
	}
}

// Project back-projects every sample of the frame with the pinhole model:
// x = (col - ppx) * d / fx, y = (row - ppy) * d / fy, z = d.
func Project(intrinsics *transform.PinholeCameraIntrinsics, frame s.DepthFrame) (*Grid, error) {
	if intrinsics == nil {
		return nil, transform.NewNoIntrinsicsError("no intrinsics to project depth with")
	}
	if intrinsics.Fx <= 0 || intrinsics.Fy <= 0 {
		return nil, errors.Errorf("invalid focal length fx=%v fy=%v", intrinsics.Fx, intrinsics.Fy)
	}
	if len(frame.Depth) != frame.Rows*frame.Cols {
		return nil, errors.Errorf("depth frame holds %d samples, expected %dx%d",
			len(frame.Depth), frame.Rows, frame.Cols)
	}

	grid := NewGrid(frame.Rows, frame.Cols)
	for row := 0; row < frame.Rows; row++ {
		for col := 0; col < frame.Cols; col++ {
			d := float64(frame.At(row, col))
			if d == 0 || math.IsNaN(d) {
				continue
			}
			x, y, z := intrinsics.PixelToPoint(float64(col), float64(row), d)
			grid.Set(row, col, r3.Vector{X: x, Y: y, Z: z})
		}
	}
	return grid, nil
}
