// Package sensorprocess contains the logic to feed depth camera readings to the depth layer
package sensorprocess

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	depthlayer "github.com/viam-modules/depth-layer"
	s "github.com/viam-modules/depth-layer/sensors"
)

// defaultTime is used to check if timestamps have not been set yet.
var defaultTime = time.Time{}

// Layer is the part of the depth layer the sensor processes drive.
type Layer interface {
	UpdateCameraInfo(info s.CameraInfo) error
	ProcessDepthImage(ctx context.Context, raw s.RawDepthImage) (depthlayer.Result, error)
}

// Config holds config needed throughout the process of feeding readings to the layer.
type Config struct {
	Layer      Layer
	Camera     s.TimedDepthCamera
	CameraInfo s.CameraInfoSource
	// CameraInfoInterval is how often the camera info source is polled.
	CameraInfoInterval time.Duration
	Logger             logging.Logger

	lastStamp      time.Time
	lastCameraInfo *s.CameraInfo
}

// Run forwards the initial camera info, then polls camera info in the background while
// processing depth images in the foreground. Returns true when the depth recording ended and
// false when the context was cancelled.
func (config *Config) Run(ctx context.Context) bool {
	infoCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var workers sync.WaitGroup
	if config.CameraInfo != nil {
		if err := config.updateCameraInfo(ctx); err != nil {
			config.Logger.Warnw("failed to get initial camera info", "error", err)
		}
		workers.Add(1)
		goutils.PanicCapturingGo(func() {
			defer workers.Done()
			config.StartCameraInfo(infoCtx)
		})
	}

	jobDone := config.StartDepth(ctx)
	cancel()
	workers.Wait()
	return jobDone
}
