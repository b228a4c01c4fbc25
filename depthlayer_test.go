package depthlayer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/test"

	"github.com/viam-modules/depth-layer/config"
	"github.com/viam-modules/depth-layer/groundplane"
	"github.com/viam-modules/depth-layer/internal/testhelper"
	"github.com/viam-modules/depth-layer/intrinsics"
	"github.com/viam-modules/depth-layer/observation"
	"github.com/viam-modules/depth-layer/observation/inject"
	s "github.com/viam-modules/depth-layer/sensors"
)

const (
	cameraHeight = 1.0
	// the obstacle's interior pixels, rows 41-54 by cols 26-37
	obstaclePoints = 14 * 12
	// valid pixels inside the default margins: floor rows 32-59 by cols 20-59
	clearingPoints = 28 * 40
)

type handOff struct {
	buffer string
	size   int
}

func recordingBuffer(name string, calls *[]handOff) *inject.Buffer {
	return &inject.Buffer{
		LockFunc:   func() {},
		UnlockFunc: func() {},
		BufferCloudFunc: func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
			*calls = append(*calls, handOff{buffer: name, size: cloud.Size()})
			return nil
		},
	}
}

func defaultOptions(t *testing.T) config.Options {
	t.Helper()
	return config.GetOptionalParameters(&config.Config{DepthCamera: "head_camera"}, logging.NewTestLogger(t))
}

// obstacleScene is a floor one meter below an 80x80 camera with a box standing on it.
func obstacleScene() s.DepthFrame {
	intr := testhelper.Intrinsics(80, 80, 60, 19.5)
	frame := testhelper.FloorFrame(intr, cameraHeight, 5)
	testhelper.AddWall(frame, 40, 55, 25, 38, 1.2)
	return frame
}

func newReadyLayer(t *testing.T, opts config.Options, deps Deps) *Layer {
	t.Helper()
	layer, err := New(opts, deps, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	intr := testhelper.Intrinsics(80, 80, 60, 19.5)
	test.That(t, layer.UpdateCameraInfo(testhelper.CameraInfo(intr)), test.ShouldBeNil)
	return layer
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("reference frame mode needs transforms", func(t *testing.T) {
		opts := defaultOptions(t)
		opts.FindGroundPlane = false
		_, err := New(opts, Deps{}, logger)
		test.That(t, err, test.ShouldBeError, errors.New("find_ground_plane is false but no transforms are available"))

		opts.StaticTransforms = []groundplane.StaticTransform{{
			Parent: testhelper.BaseFrame,
			Child:  testhelper.FrameID,
			Pose:   testhelper.LevelCameraPose(cameraHeight),
		}}
		layer, err := New(opts, Deps{}, logger)
		test.That(t, err, test.ShouldBeNil)
		_, ok := layer.estimator.(*groundplane.ReferenceFrame)
		test.That(t, ok, test.ShouldBeTrue)
	})

	t.Run("geometric mode by default", func(t *testing.T) {
		layer, err := New(defaultOptions(t), Deps{}, logger)
		test.That(t, err, test.ShouldBeNil)
		_, ok := layer.estimator.(*groundplane.Geometric)
		test.That(t, ok, test.ShouldBeTrue)
		_, ok = layer.aggregator.Marking.(*observation.MemoryBuffer)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, layer.aggregator.Publisher, test.ShouldBeNil)
	})

	t.Run("file publisher when publishing", func(t *testing.T) {
		opts := defaultOptions(t)
		opts.PublishObservations = true
		opts.PublishDir = t.TempDir()
		layer, err := New(opts, Deps{}, logger)
		test.That(t, err, test.ShouldBeNil)
		_, ok := layer.aggregator.Publisher.(*observation.FilePublisher)
		test.That(t, ok, test.ShouldBeTrue)
	})
}

func TestUpdateCameraInfo(t *testing.T) {
	layer, err := New(defaultOptions(t), Deps{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, ok := layer.Intrinsics()
	test.That(t, ok, test.ShouldBeFalse)

	info := testhelper.CameraInfo(testhelper.Intrinsics(80, 80, 60, 19.5))
	test.That(t, layer.UpdateCameraInfo(info), test.ShouldBeNil)
	intr, ok := layer.Intrinsics()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, intr.Fx, test.ShouldEqual, 60.0)

	t.Run("mismatched binning keeps the previous intrinsics", func(t *testing.T) {
		binned := info
		binned.BinningX, binned.BinningY = 2, 1
		err := layer.UpdateCameraInfo(binned)
		test.That(t, errors.Is(err, intrinsics.ErrBinningMismatch), test.ShouldBeTrue)
		intr, ok := layer.Intrinsics()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, intr.Fx, test.ShouldEqual, 60.0)
	})

	t.Run("binning scales the intrinsics", func(t *testing.T) {
		binned := info
		binned.BinningX, binned.BinningY = 2, 2
		test.That(t, layer.UpdateCameraInfo(binned), test.ShouldBeNil)
		intr, _ := layer.Intrinsics()
		test.That(t, intr.Fx, test.ShouldEqual, 30.0)
		test.That(t, intr.Ppy, test.ShouldEqual, 9.75)
	})
}

func TestProcessFrame(t *testing.T) {
	ctx := context.Background()

	t.Run("frames are skipped until intrinsics arrive", func(t *testing.T) {
		var calls []handOff
		layer, err := New(defaultOptions(t), Deps{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: recordingBuffer("clearing", &calls),
		}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)

		result, err := layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusNotReady)
		test.That(t, calls, test.ShouldBeEmpty)
	})

	t.Run("geometric ground plane", func(t *testing.T) {
		var calls []handOff
		layer := newReadyLayer(t, defaultOptions(t), Deps{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: recordingBuffer("clearing", &calls),
		})

		result, err := layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusProcessed)
		test.That(t, result.Plane.B, test.ShouldAlmostEqual, -1.0, 1e-3)
		test.That(t, result.Plane.D, test.ShouldAlmostEqual, cameraHeight, 1e-3)
		test.That(t, result.Marking.Points, test.ShouldHaveLength, obstaclePoints)
		test.That(t, result.Clearing.Points, test.ShouldHaveLength, clearingPoints)
		test.That(t, result.Marking.FrameID, test.ShouldEqual, testhelper.FrameID)
		test.That(t, result.Marking.Stamp, test.ShouldEqual, testhelper.Stamp)
		test.That(t, calls, test.ShouldResemble, []handOff{
			{buffer: "clearing", size: clearingPoints},
			{buffer: "marking", size: obstaclePoints},
		})
	})

	t.Run("reference frame ground plane", func(t *testing.T) {
		var calls []handOff
		opts := defaultOptions(t)
		opts.FindGroundPlane = false
		layer := newReadyLayer(t, opts, Deps{
			Transforms: testhelper.LevelCameraTransforms(cameraHeight),
			Marking:    recordingBuffer("marking", &calls),
			Clearing:   recordingBuffer("clearing", &calls),
		})

		result, err := layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusProcessed)
		test.That(t, result.Plane.B, test.ShouldAlmostEqual, -1.0, 1e-9)
		test.That(t, result.Plane.D, test.ShouldAlmostEqual, cameraHeight, 1e-9)
		test.That(t, result.Marking.Points, test.ShouldHaveLength, obstaclePoints)
		test.That(t, calls, test.ShouldHaveLength, 2)
	})

	t.Run("only the clearing set is handed off without obstacles", func(t *testing.T) {
		var calls []handOff
		opts := defaultOptions(t)
		opts.FindGroundPlane = false
		layer := newReadyLayer(t, opts, Deps{
			Transforms: testhelper.LevelCameraTransforms(cameraHeight),
			Marking:    recordingBuffer("marking", &calls),
			Clearing:   recordingBuffer("clearing", &calls),
		})

		intr := testhelper.Intrinsics(80, 80, 60, 19.5)
		result, err := layer.ProcessFrame(ctx, testhelper.FloorFrame(intr, cameraHeight, 5))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Marking.Points, test.ShouldBeEmpty)
		test.That(t, calls, test.ShouldResemble, []handOff{{buffer: "clearing", size: clearingPoints}})
	})

	t.Run("no ground plane drops the frame", func(t *testing.T) {
		var calls []handOff
		layer := newReadyLayer(t, defaultOptions(t), Deps{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: recordingBuffer("clearing", &calls),
		})
		result, err := layer.ProcessFrame(ctx, testhelper.ConstantFrame(80, 80, 2))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusNoGroundPlane)
		test.That(t, calls, test.ShouldBeEmpty)

		opts := defaultOptions(t)
		opts.FindGroundPlane = false
		layer = newReadyLayer(t, opts, Deps{
			Transforms: groundplane.NewStaticTransforms(),
			Marking:    recordingBuffer("marking", &calls),
			Clearing:   recordingBuffer("clearing", &calls),
		})
		result, err = layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusNoGroundPlane)
		test.That(t, calls, test.ShouldBeEmpty)
	})

	t.Run("nan samples clear when clear_nans is set", func(t *testing.T) {
		frame := obstacleScene()
		frame.Set(25, 40, float32(math.NaN()))

		layer := newReadyLayer(t, defaultOptions(t), Deps{})
		result, err := layer.ProcessFrame(ctx, frame)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Clearing.Points, test.ShouldHaveLength, clearingPoints)

		opts := defaultOptions(t)
		opts.ClearNaNs = true
		layer = newReadyLayer(t, opts, Deps{})
		result, err = layer.ProcessFrame(ctx, frame)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Clearing.Points, test.ShouldHaveLength, clearingPoints+1)
		test.That(t, result.Marking.Points, test.ShouldHaveLength, obstaclePoints)
		test.That(t, math.IsNaN(float64(frame.At(25, 40))), test.ShouldBeTrue)

		observations := layer.aggregator.Clearing.(*observation.MemoryBuffer).Observations()
		test.That(t, observations, test.ShouldHaveLength, 1)
		test.That(t, observations[0].Cloud.Size(), test.ShouldEqual, clearingPoints+1)
	})

	t.Run("observations are published when enabled", func(t *testing.T) {
		var channels []string
		pub := &inject.Publisher{
			PublishFunc: func(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error {
				channels = append(channels, channel)
				return nil
			},
		}

		layer := newReadyLayer(t, defaultOptions(t), Deps{Publisher: pub})
		_, err := layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, channels, test.ShouldBeEmpty)

		opts := defaultOptions(t)
		opts.PublishObservations = true
		layer = newReadyLayer(t, opts, Deps{Publisher: pub})
		_, err = layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, channels, test.ShouldResemble, []string{observation.ClearingChannel, observation.MarkingChannel})
	})

	t.Run("buffer failures are returned", func(t *testing.T) {
		failing := &inject.Buffer{
			LockFunc:   func() {},
			UnlockFunc: func() {},
			BufferCloudFunc: func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
				return errors.New("buffer full")
			},
		}
		layer := newReadyLayer(t, defaultOptions(t), Deps{Clearing: failing})
		result, err := layer.ProcessFrame(ctx, obstacleScene())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "buffer full")
		test.That(t, result.Status, test.ShouldEqual, StatusProcessed)
	})
}

func TestProcessDepthImage(t *testing.T) {
	ctx := context.Background()
	layer := newReadyLayer(t, defaultOptions(t), Deps{})

	t.Run("decodes and processes", func(t *testing.T) {
		result, err := layer.ProcessDepthImage(ctx, s.Encode32FC1(obstacleScene()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, result.Status, test.ShouldEqual, StatusProcessed)
		test.That(t, result.Marking.Points, test.ShouldHaveLength, obstaclePoints)
	})

	t.Run("undecodable images are dropped", func(t *testing.T) {
		raw := s.Encode32FC1(obstacleScene())
		raw.Encoding = "rgb8"
		_, err := layer.ProcessDepthImage(ctx, raw)
		test.That(t, errors.Is(err, s.ErrDecode), test.ShouldBeTrue)

		raw = s.Encode32FC1(obstacleScene())
		raw.Data = raw.Data[:100]
		_, err = layer.ProcessDepthImage(ctx, raw)
		test.That(t, errors.Is(err, s.ErrDecode), test.ShouldBeTrue)
	})
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusProcessed.String(), test.ShouldEqual, "processed")
	test.That(t, StatusNotReady.String(), test.ShouldEqual, "not ready")
	test.That(t, StatusNoGroundPlane.String(), test.ShouldEqual, "no ground plane")
	test.That(t, Status(42).String(), test.ShouldEqual, "unknown")
}
