package groundplane

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// ErrNoTransform denotes that no transform is known between two frames.
var ErrNoTransform = errors.New("no transform available")

// StaticTransform is the fixed pose of Child expressed in Parent.
type StaticTransform struct {
	Parent string
	Child  string
	Pose   spatialmath.Pose
}

type framePair struct {
	target, source string
}

// StaticTransforms is a TransformProvider over fixed, directly connected frame pairs. Each pair
// can be looked up in both directions; chains of transforms are not resolved.
type StaticTransforms struct {
	poses map[framePair]spatialmath.Pose
}

// NewStaticTransforms returns a provider knowing the given transforms.
func NewStaticTransforms(transforms ...StaticTransform) *StaticTransforms {
	st := &StaticTransforms{poses: make(map[framePair]spatialmath.Pose, len(transforms))}
	for _, tf := range transforms {
		st.poses[framePair{target: tf.Parent, source: tf.Child}] = tf.Pose
	}
	return st
}

// LookupTransform returns the pose of source in target. The time is ignored since the
// transforms never change.
func (st *StaticTransforms) LookupTransform(_ context.Context, target, source string, _ time.Time) (spatialmath.Pose, error) {
	if target == source {
		return spatialmath.NewZeroPose(), nil
	}
	if pose, ok := st.poses[framePair{target: target, source: source}]; ok {
		return pose, nil
	}
	if pose, ok := st.poses[framePair{target: source, source: target}]; ok {
		return spatialmath.PoseInverse(pose), nil
	}
	return nil, errors.Wrapf(ErrNoTransform, "between %q and %q", target, source)
}

// TransformVector rotates v from frame from into frame to.
func (st *StaticTransforms) TransformVector(ctx context.Context, v r3.Vector, from, to string, at time.Time) (r3.Vector, error) {
	pose, err := st.LookupTransform(ctx, to, from, at)
	if err != nil {
		return r3.Vector{}, err
	}
	rotation := spatialmath.NewPose(r3.Vector{}, pose.Orientation())
	return spatialmath.Compose(rotation, spatialmath.NewPoseFromPoint(v)).Point(), nil
}
