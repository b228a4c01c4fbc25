// Package testhelper builds synthetic depth frames of simple scenes seen by a level camera.
// It is shared by the tests of the depth layer packages.
package testhelper

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-modules/depth-layer/groundplane"
	s "github.com/viam-modules/depth-layer/sensors"
)

const (
	// FrameID is the optical frame of the synthetic camera.
	FrameID = "camera_depth_optical_frame"
	// BaseFrame is the robot base frame of the synthetic camera.
	BaseFrame = "base_link"
)

// Stamp is the capture time of every synthetic frame.
var Stamp = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

// Intrinsics returns intrinsics for a rows x cols camera whose principal point sits between
// pixels, so no pixel back-projects onto the optical axis planes, and whose horizon is at
// horizonRow.
func Intrinsics(rows, cols int, focal, horizonRow float64) *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width:  cols,
		Height: rows,
		Fx:     focal,
		Fy:     focal,
		Ppx:    float64(cols)/2 - 0.5,
		Ppy:    horizonRow,
	}
}

// CameraInfo returns the unbinned camera info matching intrinsics.
func CameraInfo(intrinsics *transform.PinholeCameraIntrinsics) s.CameraInfo {
	return s.CameraInfoFromIntrinsics(intrinsics)
}

// FloorFrame renders a flat floor height meters below a level camera. Rays that miss the floor
// or hit it beyond maxRange get no return.
func FloorFrame(intrinsics *transform.PinholeCameraIntrinsics, height, maxRange float64) s.DepthFrame {
	frame := s.NewDepthFrame(FrameID, Stamp, intrinsics.Height, intrinsics.Width)
	for row := 0; row < frame.Rows; row++ {
		v := (float64(row) - intrinsics.Ppy) / intrinsics.Fy
		if v <= 0 {
			continue
		}
		if depth := height / v; depth <= maxRange {
			for col := 0; col < frame.Cols; col++ {
				frame.Set(row, col, float32(depth))
			}
		}
	}
	return frame
}

// ConstantFrame returns a frame with every sample at depth, a wall facing the camera.
func ConstantFrame(rows, cols int, depth float32) s.DepthFrame {
	frame := s.NewDepthFrame(FrameID, Stamp, rows, cols)
	for i := range frame.Depth {
		frame.Depth[i] = depth
	}
	return frame
}

// AddWall places a surface facing the camera at depth over the given inclusive pixel window,
// occluding whatever lies behind it.
func AddWall(frame s.DepthFrame, rowMin, rowMax, colMin, colMax int, depth float32) {
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			current := frame.At(row, col)
			if current == 0 || math.IsNaN(float64(current)) || current > depth {
				frame.Set(row, col, depth)
			}
		}
	}
}

// LevelCameraPose is the pose of a forward looking optical frame mounted height above the
// base: optical z along base x, optical x along -base y, optical y along -base z.
func LevelCameraPose(height float64) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{Z: height},
		&spatialmath.Quaternion{Real: 0.5, Imag: -0.5, Jmag: 0.5, Kmag: -0.5},
	)
}

// LevelCameraTransforms returns a transform provider knowing the level camera pose.
func LevelCameraTransforms(height float64) *groundplane.StaticTransforms {
	return groundplane.NewStaticTransforms(groundplane.StaticTransform{
		Parent: BaseFrame,
		Child:  FrameID,
		Pose:   LevelCameraPose(height),
	})
}
