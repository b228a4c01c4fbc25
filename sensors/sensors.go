// Package sensors defines the inputs consumed by the depth layer and the interfaces of the sources producing them.
package sensors

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// TimedDepthCamera describes a depth camera that reports the time and frame each image is from.
type TimedDepthCamera interface {
	Name() string
	DataFrequencyHz() int
	TimedDepthReading(ctx context.Context) (RawDepthImage, error)
}

// CameraInfoSource delivers the latest calibration of a depth camera.
type CameraInfoSource interface {
	CameraInfo(ctx context.Context) (CameraInfo, error)
}

// ValidateGetData checks every sensorValidationInterval if the provided depth camera
// returns an image that decodes into a depth frame, until either success or
// sensorValidationMaxTimeout has elapsed.
// returns an error if no decodable image was returned.
func ValidateGetData(
	ctx context.Context,
	camera TimedDepthCamera,
	sensorValidationMaxTimeout time.Duration,
	sensorValidationInterval time.Duration,
	logger logging.Logger,
) error {
	ctx, span := trace.StartSpan(ctx, "depthlayer::sensors::ValidateGetData")
	defer span.End()

	startTime := time.Now().UTC()

	for {
		raw, err := camera.TimedDepthReading(ctx)
		if err == nil {
			_, err = Decode(raw)
		}
		if err == nil {
			break
		}

		logger.Debugw("ValidateGetData hit error: ", "error", err)
		if time.Since(startTime) >= sensorValidationMaxTimeout {
			return errors.Wrap(err, "ValidateGetData timeout")
		}
		if !goutils.SelectContextOrWait(ctx, sensorValidationInterval) {
			return ctx.Err()
		}
	}

	return nil
}
