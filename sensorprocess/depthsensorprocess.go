package sensorprocess

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	depthlayer "github.com/viam-modules/depth-layer"
	s "github.com/viam-modules/depth-layer/sensors"
)

// StartDepth polls the depth camera for the next image and hands it to the layer.
// Stops when the context is Done, returning false, or when the camera reports the end of its
// recording, returning true.
func (config *Config) StartDepth(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
			if err := config.addDepthReading(ctx); err != nil {
				if errors.Is(err, s.ErrEndOfRecording) {
					config.Logger.Info("reached the end of the depth recording")
					return true
				}
				config.Logger.Warn(err)
			}
		}
	}
}

// addDepthReading processes the most recent depth image and sleeps the remainder of the
// camera's interval.
func (config *Config) addDepthReading(ctx context.Context) error {
	raw, err := config.Camera.TimedDepthReading(ctx)
	if err != nil {
		return err
	}

	if raw.Stamp != defaultTime && !raw.Stamp.After(config.lastStamp) {
		config.Logger.Debugf("skipping depth image from %v, already processed up to %v", raw.Stamp, config.lastStamp)
		config.sleep(ctx, config.interval())
		return nil
	}

	timeToSleep := config.tryProcessOnce(ctx, raw)
	config.sleep(ctx, timeToSleep)
	config.Logger.Debugf("depth sleep for %v", timeToSleep)
	return nil
}

// tryProcessOnce hands an image to the layer once. Images the layer drops are not handed to it
// again. Returns remainder of time interval.
func (config *Config) tryProcessOnce(ctx context.Context, raw s.RawDepthImage) time.Duration {
	startTime := time.Now().UTC()

	result, err := config.Layer.ProcessDepthImage(ctx, raw)
	config.lastStamp = raw.Stamp
	switch {
	case err != nil:
		config.Logger.Warnw("Skipping depth image due to error from the depth layer", "error", err)
	case result.Status == depthlayer.StatusProcessed:
		config.Logger.Debugf("%v \t | DEPTH | Success \t \t | marking %d clearing %d",
			raw.Stamp, len(result.Marking.Points), len(result.Clearing.Points))
	default:
		config.Logger.Debugf("%v \t | DEPTH | %v", raw.Stamp, result.Status)
	}

	timeElapsed := time.Since(startTime)
	return time.Duration(math.Max(0, float64(config.interval()-timeElapsed)))
}

func (config *Config) interval() time.Duration {
	hz := config.Camera.DataFrequencyHz()
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

func (config *Config) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	goutils.SelectContextOrWait(ctx, d)
}
