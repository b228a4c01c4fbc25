package observation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/test"

	"github.com/viam-modules/depth-layer/dataprocess"
	"github.com/viam-modules/depth-layer/internal/testhelper"
	"github.com/viam-modules/depth-layer/observation"
	"github.com/viam-modules/depth-layer/observation/inject"
)

type call struct {
	buffer  string
	op      string
	size    int
	stamp   time.Time
	frameID string
}

func recordingBuffer(name string, calls *[]call) *inject.Buffer {
	buf := &inject.Buffer{}
	buf.LockFunc = func() { *calls = append(*calls, call{buffer: name, op: "lock"}) }
	buf.UnlockFunc = func() { *calls = append(*calls, call{buffer: name, op: "unlock"}) }
	buf.BufferCloudFunc = func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
		*calls = append(*calls, call{buffer: name, op: "buffer", size: cloud.Size(), stamp: stamp, frameID: frameID})
		return nil
	}
	return buf
}

func set(points ...r3.Vector) observation.Set {
	return observation.Set{Points: points, Stamp: testhelper.Stamp, FrameID: testhelper.FrameID}
}

func TestSet(t *testing.T) {
	s := set(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: -1, Y: -2, Z: 4})
	test.That(t, s.Empty(), test.ShouldBeFalse)
	test.That(t, set().Empty(), test.ShouldBeTrue)

	cloud, err := s.ToPointCloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	_, ok := cloud.At(-1, -2, 4)
	test.That(t, ok, test.ShouldBeTrue)

	obj, err := observation.CloudToProto(cloud, s.FrameID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obj.GetGeometries().GetReferenceFrame(), test.ShouldEqual, testhelper.FrameID)
	test.That(t, string(obj.GetPointCloud()), test.ShouldContainSubstring, "POINTS 2")
}

func TestAggregatorDeliver(t *testing.T) {
	logger := logging.NewTestLogger(t)
	marking := set(r3.Vector{X: 1, Y: 1, Z: 1})
	clearing := set(r3.Vector{X: 1, Y: 1, Z: 1}, r3.Vector{X: 2, Y: 2, Z: 2})

	t.Run("clearing is buffered before marking, each under its lock", func(t *testing.T) {
		var calls []call
		agg := observation.Aggregator{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: recordingBuffer("clearing", &calls),
			Logger:   logger,
		}
		test.That(t, agg.Deliver(context.Background(), marking, clearing), test.ShouldBeNil)
		test.That(t, calls, test.ShouldResemble, []call{
			{buffer: "clearing", op: "lock"},
			{buffer: "clearing", op: "buffer", size: 2, stamp: testhelper.Stamp, frameID: testhelper.FrameID},
			{buffer: "clearing", op: "unlock"},
			{buffer: "marking", op: "lock"},
			{buffer: "marking", op: "buffer", size: 1, stamp: testhelper.Stamp, frameID: testhelper.FrameID},
			{buffer: "marking", op: "unlock"},
		})
	})

	t.Run("empty sets are not handed off", func(t *testing.T) {
		var calls []call
		agg := observation.Aggregator{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: recordingBuffer("clearing", &calls),
			Logger:   logger,
		}
		test.That(t, agg.Deliver(context.Background(), set(), clearing), test.ShouldBeNil)
		test.That(t, calls, test.ShouldHaveLength, 3)
		test.That(t, calls[1].buffer, test.ShouldEqual, "clearing")

		calls = nil
		test.That(t, agg.Deliver(context.Background(), set(), set()), test.ShouldBeNil)
		test.That(t, calls, test.ShouldBeEmpty)
	})

	t.Run("a buffer failure does not stop the other buffer", func(t *testing.T) {
		var calls []call
		clearingBuf := recordingBuffer("clearing", &calls)
		clearingBuf.BufferCloudFunc = func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
			return errors.New("full")
		}
		agg := observation.Aggregator{
			Marking:  recordingBuffer("marking", &calls),
			Clearing: clearingBuf,
			Logger:   logger,
		}
		err := agg.Deliver(context.Background(), marking, clearing)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "buffering clearing_obs: full")
		test.That(t, calls, test.ShouldResemble, []call{
			{buffer: "clearing", op: "lock"},
			{buffer: "clearing", op: "unlock"},
			{buffer: "marking", op: "lock"},
			{buffer: "marking", op: "buffer", size: 1, stamp: testhelper.Stamp, frameID: testhelper.FrameID},
			{buffer: "marking", op: "unlock"},
		})
	})

	t.Run("failures of both buffers are combined", func(t *testing.T) {
		var calls []call
		failing := func(name string) *inject.Buffer {
			buf := recordingBuffer(name, &calls)
			buf.BufferCloudFunc = func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
				return errors.New(name + " full")
			}
			return buf
		}
		agg := observation.Aggregator{
			Marking:  failing("marking"),
			Clearing: failing("clearing"),
			Logger:   logger,
		}
		err := agg.Deliver(context.Background(), marking, clearing)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "clearing full")
		test.That(t, err.Error(), test.ShouldContainSubstring, "marking full")
		test.That(t, calls, test.ShouldHaveLength, 4)
	})

	t.Run("sets are published before buffering", func(t *testing.T) {
		var calls []call
		var published []string
		pub := &inject.Publisher{
			PublishFunc: func(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error {
				published = append(published, channel)
				test.That(t, stamp, test.ShouldEqual, testhelper.Stamp)
				test.That(t, obj.GetGeometries().GetReferenceFrame(), test.ShouldEqual, testhelper.FrameID)
				test.That(t, len(calls)%3, test.ShouldEqual, 0)
				return nil
			},
		}
		agg := observation.Aggregator{
			Marking:   recordingBuffer("marking", &calls),
			Clearing:  recordingBuffer("clearing", &calls),
			Publisher: pub,
			Logger:    logger,
		}
		test.That(t, agg.Deliver(context.Background(), marking, clearing), test.ShouldBeNil)
		test.That(t, published, test.ShouldResemble, []string{observation.ClearingChannel, observation.MarkingChannel})
	})

	t.Run("a publish failure does not stop buffering", func(t *testing.T) {
		var calls []call
		pub := &inject.Publisher{
			PublishFunc: func(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error {
				return errors.New("no subscribers")
			},
		}
		agg := observation.Aggregator{
			Marking:   recordingBuffer("marking", &calls),
			Clearing:  recordingBuffer("clearing", &calls),
			Publisher: pub,
			Logger:    logger,
		}
		test.That(t, agg.Deliver(context.Background(), marking, clearing), test.ShouldBeNil)
		test.That(t, calls, test.ShouldHaveLength, 6)
	})
}

func TestFilePublisher(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	pub := observation.NewFilePublisher(dir, logger)

	cloud, err := set(r3.Vector{X: 1, Y: 2, Z: 3}).ToPointCloud()
	test.That(t, err, test.ShouldBeNil)
	obj, err := observation.CloudToProto(cloud, testhelper.FrameID)
	test.That(t, err, test.ShouldBeNil)

	t.Run("writes the pcd bytes to a timestamped file", func(t *testing.T) {
		test.That(t, pub.Publish(context.Background(), observation.MarkingChannel, testhelper.Stamp, obj), test.ShouldBeNil)
		filename := dataprocess.CreateTimestampFilename(dir, observation.MarkingChannel, dataprocess.PCDFileType, testhelper.Stamp)
		contents, err := os.ReadFile(filename)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, contents, test.ShouldResemble, obj.GetPointCloud())
	})

	t.Run("fails on a missing directory", func(t *testing.T) {
		missing := observation.NewFilePublisher(filepath.Join(dir, "missing"), logger)
		err := missing.Publish(context.Background(), observation.ClearingChannel, testhelper.Stamp, obj)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("fails on nil", func(t *testing.T) {
		err := pub.Publish(context.Background(), observation.ClearingChannel, testhelper.Stamp, nil)
		test.That(t, err, test.ShouldBeError, errors.New("nothing to publish"))
	})
}
