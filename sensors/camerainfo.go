package sensors

import (
	"go.viam.com/rdk/rimage/transform"
)

// CameraInfo is the calibration published alongside a depth stream. Projection is the
// row-major 3x4 projection matrix of the rectified image.
type CameraInfo struct {
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Projection [12]float64 `json:"projection"`
	BinningX   uint32      `json:"binning_x"`
	BinningY   uint32      `json:"binning_y"`
}

// FocalPixels returns the focal length in pixels. The horizontal value is used for both axes.
func (info CameraInfo) FocalPixels() float64 {
	return info.Projection[0]
}

// CenterX returns the principal point column in pixels.
func (info CameraInfo) CenterX() float64 {
	return info.Projection[2]
}

// CenterY returns the principal point row in pixels.
func (info CameraInfo) CenterY() float64 {
	return info.Projection[6]
}

// CameraInfoFromIntrinsics builds an unbinned CameraInfo from pinhole intrinsics, as reported
// by camera properties.
func CameraInfoFromIntrinsics(intrinsics *transform.PinholeCameraIntrinsics) CameraInfo {
	return CameraInfo{
		Width:  intrinsics.Width,
		Height: intrinsics.Height,
		Projection: [12]float64{
			intrinsics.Fx, 0, intrinsics.Ppx, 0,
			0, intrinsics.Fy, intrinsics.Ppy, 0,
			0, 0, 1, 0,
		},
	}
}
