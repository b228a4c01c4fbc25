package groundplane

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-modules/depth-layer/cameramodel"
)

// DefaultBaseFrame is the robot base frame the up axis is expressed in.
const DefaultBaseFrame = "base_link"

// Latest selects the most recent transform available.
var Latest = time.Time{}

// TransformProvider looks up rigid transforms between named frames.
type TransformProvider interface {
	// TransformVector rotates v, expressed in frame from, into frame to. Translation is ignored.
	TransformVector(ctx context.Context, v r3.Vector, from, to string, at time.Time) (r3.Vector, error)
	// LookupTransform returns the pose of frame source expressed in frame target, which maps
	// coordinates in source to coordinates in target.
	LookupTransform(ctx context.Context, target, source string, at time.Time) (spatialmath.Pose, error)
}

// ReferenceFrame derives the ground plane from the pose of the camera relative to the robot
// base: the base's up axis gives the normal and the camera's height above the base the offset.
type ReferenceFrame struct {
	baseFrame  string
	transforms TransformProvider
}

// NewReferenceFrame returns a ReferenceFrame estimator for the given base frame.
func NewReferenceFrame(baseFrame string, transforms TransformProvider) *ReferenceFrame {
	if baseFrame == "" {
		baseFrame = DefaultBaseFrame
	}
	return &ReferenceFrame{baseFrame: baseFrame, transforms: transforms}
}

// EstimateGroundPlane returns the base's ground plane in frameID. The grid is not used.
func (rf *ReferenceFrame) EstimateGroundPlane(ctx context.Context, _ *cameramodel.Grid, frameID string) (Plane, error) {
	ctx, span := trace.StartSpan(ctx, "depthlayer::groundplane::ReferenceFrame::EstimateGroundPlane")
	defer span.End()

	if rf.transforms == nil {
		return NoPlane, errors.Wrap(ErrNoTransform, "no transform provider configured")
	}

	normal, err := rf.transforms.TransformVector(ctx, r3.Vector{Z: 1}, rf.baseFrame, frameID, Latest)
	if err != nil {
		return NoPlane, errors.Wrapf(err, "cannot rotate up axis from %q into %q", rf.baseFrame, frameID)
	}

	pose, err := rf.transforms.LookupTransform(ctx, rf.baseFrame, frameID, Latest)
	if err != nil {
		return NoPlane, errors.Wrapf(err, "cannot look up %q in %q", frameID, rf.baseFrame)
	}

	return Plane{A: normal.X, B: normal.Y, C: normal.Z, D: pose.Point().Z}, nil
}
