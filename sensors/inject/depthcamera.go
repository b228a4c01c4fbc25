// Package inject provides dependency injected structures for mocking interfaces.
package inject

import (
	"context"

	"github.com/pkg/errors"

	s "github.com/viam-modules/depth-layer/sensors"
)

// TimedDepthCamera is an injected TimedDepthCamera.
type TimedDepthCamera struct {
	s.TimedDepthCamera
	NameFunc              func() string
	DataFrequencyHzFunc   func() int
	TimedDepthReadingFunc func(ctx context.Context) (s.RawDepthImage, error)
}

// Name calls the injected Name or the real version.
func (tdc *TimedDepthCamera) Name() string {
	if tdc.NameFunc == nil {
		return tdc.TimedDepthCamera.Name()
	}
	return tdc.NameFunc()
}

// DataFrequencyHz calls the injected DataFrequencyHz or the real version.
func (tdc *TimedDepthCamera) DataFrequencyHz() int {
	if tdc.DataFrequencyHzFunc == nil {
		return tdc.TimedDepthCamera.DataFrequencyHz()
	}
	return tdc.DataFrequencyHzFunc()
}

// TimedDepthReading calls the injected TimedDepthReading or the real version.
func (tdc *TimedDepthCamera) TimedDepthReading(ctx context.Context) (s.RawDepthImage, error) {
	if tdc.TimedDepthReadingFunc == nil {
		if tdc.TimedDepthCamera == nil {
			return s.RawDepthImage{}, errors.New("no depth camera injected")
		}
		return tdc.TimedDepthCamera.TimedDepthReading(ctx)
	}
	return tdc.TimedDepthReadingFunc(ctx)
}
