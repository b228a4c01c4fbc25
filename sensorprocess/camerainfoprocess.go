package sensorprocess

import (
	"context"
	"time"

	goutils "go.viam.com/utils"
)

const defaultCameraInfoInterval = time.Second

// StartCameraInfo polls the camera info source and passes every change to the layer. Stops
// when the context is Done.
func (config *Config) StartCameraInfo(ctx context.Context) {
	interval := config.CameraInfoInterval
	if interval <= 0 {
		interval = defaultCameraInfoInterval
	}
	for {
		if err := config.updateCameraInfo(ctx); err != nil {
			config.Logger.Warnw("failed to update camera info", "error", err)
		}
		if !goutils.SelectContextOrWait(ctx, interval) {
			return
		}
	}
}

// updateCameraInfo forwards the current camera info to the layer when it differs from the last
// one forwarded.
func (config *Config) updateCameraInfo(ctx context.Context) error {
	info, err := config.CameraInfo.CameraInfo(ctx)
	if err != nil {
		return err
	}
	if config.lastCameraInfo != nil && *config.lastCameraInfo == info {
		return nil
	}
	config.lastCameraInfo = &info
	return config.Layer.UpdateCameraInfo(info)
}
