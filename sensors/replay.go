package sensors

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ErrEndOfRecording denotes that a replay depth camera has delivered all of its frames.
var ErrEndOfRecording = errors.New("no more frames in recording")

// Recording is a recorded depth stream: one calibration and its frames in order.
type Recording struct {
	CameraInfo CameraInfo      `json:"camera_info"`
	Frames     []RawDepthImage `json:"frames"`
}

// LoadRecording reads a JSON recording. Frame data is base64 encoded.
func LoadRecording(path string) (*Recording, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read recording %s", path)
	}
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "cannot parse recording %s", path)
	}
	return &rec, nil
}

// ReplayDepthCamera plays back a recording. It is both a TimedDepthCamera and a
// CameraInfoSource.
type ReplayDepthCamera struct {
	name            string
	dataFrequencyHz int
	rec             *Recording

	mu   sync.Mutex
	next int
}

// NewReplayDepthCamera returns a camera replaying rec. A data frequency of zero replays as fast
// as frames are consumed.
func NewReplayDepthCamera(name string, rec *Recording, dataFrequencyHz int) *ReplayDepthCamera {
	return &ReplayDepthCamera{name: name, dataFrequencyHz: dataFrequencyHz, rec: rec}
}

// Name returns the name of the camera.
func (replay *ReplayDepthCamera) Name() string {
	return replay.name
}

// DataFrequencyHz returns the replay rate.
func (replay *ReplayDepthCamera) DataFrequencyHz() int {
	return replay.dataFrequencyHz
}

// TimedDepthReading returns the next recorded frame, or ErrEndOfRecording once all have been
// returned.
func (replay *ReplayDepthCamera) TimedDepthReading(ctx context.Context) (RawDepthImage, error) {
	replay.mu.Lock()
	defer replay.mu.Unlock()
	if replay.next >= len(replay.rec.Frames) {
		return RawDepthImage{}, ErrEndOfRecording
	}
	frame := replay.rec.Frames[replay.next]
	replay.next++
	return frame, nil
}

// CameraInfo returns the recorded calibration.
func (replay *ReplayDepthCamera) CameraInfo(ctx context.Context) (CameraInfo, error) {
	return replay.rec.CameraInfo, nil
}
