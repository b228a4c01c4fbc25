// Package groundplane determines the ground plane of a depth frame in the camera optical frame,
// either by fitting planes to the frame's points or from the pose of the robot base.
package groundplane

import (
	"context"
	"math"

	"github.com/golang/geo/r3"

	"github.com/viam-modules/depth-layer/cameramodel"
)

// Plane is the plane A*x + B*y + C*z + D = 0. The zero plane means no ground plane was found.
type Plane struct {
	A float64
	B float64
	C float64
	D float64
}

// NoPlane is returned whenever the ground plane cannot be determined.
var NoPlane = Plane{}

// IsZero reports whether the plane is the no plane sentinel.
func (p Plane) IsZero() bool {
	return p.A == 0 && p.B == 0 && p.C == 0 && p.D == 0
}

// Normal returns (A, B, C).
func (p Plane) Normal() r3.Vector {
	return r3.Vector{X: p.A, Y: p.B, Z: p.C}
}

// Distance returns the signed value of the plane equation at pt. For a unit normal this is the
// signed point to plane distance.
func (p Plane) Distance(pt r3.Vector) float64 {
	return p.A*pt.X + p.B*pt.Y + p.C*pt.Z + p.D
}

// IsGroundOrientation reports whether the normal is within threshold of the camera's down
// facing floor normal (0, -1, 0) on every axis.
func (p Plane) IsGroundOrientation(threshold float64) bool {
	return math.Abs(0.0-p.A) <= threshold &&
		math.Abs(1.0+p.B) <= threshold &&
		math.Abs(0.0-p.C) <= threshold
}

// Estimator computes the ground plane of one frame. Implementations return NoPlane along with
// any error; callers drop the frame whenever the returned plane IsZero.
type Estimator interface {
	EstimateGroundPlane(ctx context.Context, grid *cameramodel.Grid, frameID string) (Plane, error)
}
