// Package intrinsics holds the latest camera intrinsics shared between the camera info
// update path and the frame processing path.
package intrinsics

import (
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"

	s "github.com/viam-modules/depth-layer/sensors"
)

// ErrBinningMismatch denotes a camera info whose horizontal and vertical binning differ.
var ErrBinningMismatch = errors.New("binning_x is not equal to binning_y")

// Store is a mutex guarded, latest-wins holder of camera intrinsics.
type Store struct {
	mu         sync.Mutex
	intrinsics *transform.PinholeCameraIntrinsics
}

// NewStore returns an empty store. Snapshot reports not ready until the first successful Update.
func NewStore() *Store {
	return &Store{}
}

// FromCameraInfo computes the intrinsics described by a camera info, dividing focal length
// and principal point by the binning factor when one is set.
func FromCameraInfo(info s.CameraInfo) (transform.PinholeCameraIntrinsics, error) {
	if info.BinningX != info.BinningY {
		return transform.PinholeCameraIntrinsics{}, errors.Wrapf(ErrBinningMismatch,
			"binning_x=%d binning_y=%d", info.BinningX, info.BinningY)
	}

	focal := info.FocalPixels()
	centerX := info.CenterX()
	centerY := info.CenterY()
	width, height := info.Width, info.Height
	if info.BinningX > 0 {
		binning := float64(info.BinningX)
		focal /= binning
		centerX /= binning
		centerY /= binning
		width /= int(info.BinningX)
		height /= int(info.BinningX)
	}

	return transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     focal,
		Fy:     focal,
		Ppx:    centerX,
		Ppy:    centerY,
	}, nil
}

// Update replaces the stored intrinsics. A camera info with mismatched binning is rejected
// and the previous intrinsics are retained.
func (store *Store) Update(info s.CameraInfo) error {
	intrinsics, err := FromCameraInfo(info)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	store.intrinsics = &intrinsics
	return nil
}

// Snapshot returns a copy of the current intrinsics, and false if none were ever stored.
func (store *Store) Snapshot() (transform.PinholeCameraIntrinsics, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.intrinsics == nil {
		return transform.PinholeCameraIntrinsics{}, false
	}
	return *store.intrinsics, true
}
