package inject

import (
	"context"

	"github.com/pkg/errors"

	s "github.com/viam-modules/depth-layer/sensors"
)

// CameraInfoSource is an injected CameraInfoSource.
type CameraInfoSource struct {
	s.CameraInfoSource
	CameraInfoFunc func(ctx context.Context) (s.CameraInfo, error)
}

// CameraInfo calls the injected CameraInfo or the real version.
func (cis *CameraInfoSource) CameraInfo(ctx context.Context) (s.CameraInfo, error) {
	if cis.CameraInfoFunc == nil {
		if cis.CameraInfoSource == nil {
			return s.CameraInfo{}, errors.New("no camera info source injected")
		}
		return cis.CameraInfoSource.CameraInfo(ctx)
	}
	return cis.CameraInfoFunc(ctx)
}
