package sensors

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Supported depth image encodings.
const (
	Encoding32FC1  = "32FC1"
	Encoding16UC1  = "16UC1"
	EncodingMono16 = "mono16"
)

// millimetersPerMeter converts 16 bit depth images, which carry millimeters, into meters.
const millimetersPerMeter = 1000.0

// ErrDecode denotes that a raw depth image could not be turned into a depth frame.
var ErrDecode = errors.New("cannot decode depth image")

// RawDepthImage is a depth image as delivered by a depth camera, before decoding.
type RawDepthImage struct {
	FrameID     string    `json:"frame_id"`
	Stamp       time.Time `json:"stamp"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Encoding    string    `json:"encoding"`
	IsBigEndian bool      `json:"is_bigendian"`
	Step        int       `json:"step"`
	Data        []byte    `json:"data"`
}

// DepthFrame is a row-major grid of depth samples in meters. A sample of 0 or NaN carries
// no return.
type DepthFrame struct {
	FrameID string
	Stamp   time.Time
	Rows    int
	Cols    int
	Depth   []float32
}

// NewDepthFrame returns a zero filled depth frame of the given shape.
func NewDepthFrame(frameID string, stamp time.Time, rows, cols int) DepthFrame {
	return DepthFrame{
		FrameID: frameID,
		Stamp:   stamp,
		Rows:    rows,
		Cols:    cols,
		Depth:   make([]float32, rows*cols),
	}
}

// At returns the depth at (row, col).
func (f DepthFrame) At(row, col int) float32 {
	return f.Depth[row*f.Cols+col]
}

// Set stores the depth at (row, col).
func (f DepthFrame) Set(row, col int, d float32) {
	f.Depth[row*f.Cols+col] = d
}

// Decode converts a raw depth image into a depth frame in meters.
func Decode(raw RawDepthImage) (DepthFrame, error) {
	if raw.Width <= 0 || raw.Height <= 0 {
		return DepthFrame{}, errors.Wrapf(ErrDecode, "invalid size %dx%d", raw.Width, raw.Height)
	}

	var bytesPerSample int
	switch raw.Encoding {
	case Encoding32FC1:
		bytesPerSample = 4
	case Encoding16UC1, EncodingMono16:
		bytesPerSample = 2
	default:
		return DepthFrame{}, errors.Wrapf(ErrDecode, "unsupported encoding %q", raw.Encoding)
	}

	step := raw.Step
	if step == 0 {
		step = raw.Width * bytesPerSample
	}
	if step < raw.Width*bytesPerSample {
		return DepthFrame{}, errors.Wrapf(ErrDecode, "step %d is smaller than a row of %d samples", step, raw.Width)
	}
	if len(raw.Data) < step*(raw.Height-1)+raw.Width*bytesPerSample {
		return DepthFrame{}, errors.Wrapf(ErrDecode, "got %d bytes for a %dx%d %s image",
			len(raw.Data), raw.Width, raw.Height, raw.Encoding)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if raw.IsBigEndian {
		order = binary.BigEndian
	}

	frame := NewDepthFrame(raw.FrameID, raw.Stamp, raw.Height, raw.Width)
	for row := 0; row < raw.Height; row++ {
		rowData := raw.Data[row*step:]
		for col := 0; col < raw.Width; col++ {
			offset := col * bytesPerSample
			if bytesPerSample == 4 {
				frame.Set(row, col, math.Float32frombits(order.Uint32(rowData[offset:])))
			} else {
				frame.Set(row, col, float32(float64(order.Uint16(rowData[offset:]))/millimetersPerMeter))
			}
		}
	}
	return frame, nil
}

// Encode32FC1 packs a depth frame into a little endian 32FC1 raw image.
func Encode32FC1(frame DepthFrame) RawDepthImage {
	data := make([]byte, 4*len(frame.Depth))
	for i, d := range frame.Depth {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(d))
	}
	return RawDepthImage{
		FrameID:  frame.FrameID,
		Stamp:    frame.Stamp,
		Width:    frame.Cols,
		Height:   frame.Rows,
		Encoding: Encoding32FC1,
		Step:     4 * frame.Cols,
		Data:     data,
	}
}
