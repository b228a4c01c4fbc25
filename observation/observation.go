// Package observation hands the classified point sets of a frame to observation buffers.
package observation

import (
	"bytes"
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
)

const (
	// ClearingChannel names the clearing observations when published.
	ClearingChannel = "clearing_obs"
	// MarkingChannel names the marking observations when published.
	MarkingChannel = "marking_obs"
)

// Set is the points of one frame destined for a single buffer.
type Set struct {
	Points  []r3.Vector
	Stamp   time.Time
	FrameID string
}

// Empty reports whether the set holds no points.
func (set Set) Empty() bool {
	return len(set.Points) == 0
}

// ToPointCloud converts the set into a point cloud.
func (set Set) ToPointCloud() (pointcloud.PointCloud, error) {
	cloud := pointcloud.NewWithPrealloc(len(set.Points))
	for _, p := range set.Points {
		if err := cloud.Set(p, pointcloud.NewBasicData()); err != nil {
			return nil, errors.Wrapf(err, "failed to add point %v", p)
		}
	}
	return cloud, nil
}

// CloudToProto encodes a cloud as a binary PCD point cloud object in the given frame.
func CloudToProto(cloud pointcloud.PointCloud, frameID string) (*commonpb.PointCloudObject, error) {
	var buf bytes.Buffer
	if err := pointcloud.ToPCD(cloud, &buf, pointcloud.PCDBinary); err != nil {
		return nil, err
	}
	return &commonpb.PointCloudObject{
		PointCloud: buf.Bytes(),
		Geometries: &commonpb.GeometriesInFrame{ReferenceFrame: frameID},
	}, nil
}

// Buffer receives observation clouds. Callers hold the lock around BufferCloud.
type Buffer interface {
	Lock()
	Unlock()
	BufferCloud(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error
}

// Publisher exposes observation sets to external consumers.
type Publisher interface {
	Publish(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error
}

// Aggregator delivers the marking and clearing sets of a frame to their buffers.
type Aggregator struct {
	Marking   Buffer
	Clearing  Buffer
	Publisher Publisher
	Logger    logging.Logger
}

// Deliver hands off the clearing set and then the marking set. Empty sets are skipped. When a
// set cannot be converted the rest of the hand off is dropped and the error returned. A buffer
// failure does not keep the other set from being buffered; buffer errors are combined.
func (a *Aggregator) Deliver(ctx context.Context, marking, clearing Set) error {
	ctx, span := trace.StartSpan(ctx, "depthlayer::observation::Deliver")
	defer span.End()

	var bufferErrs error
	for _, handOff := range []struct {
		channel string
		set     Set
		buf     Buffer
	}{
		{ClearingChannel, clearing, a.Clearing},
		{MarkingChannel, marking, a.Marking},
	} {
		if handOff.set.Empty() {
			continue
		}

		cloud, err := handOff.set.ToPointCloud()
		if err != nil {
			a.Logger.Errorw("failed to convert observation to a point cloud, dropping it", "channel", handOff.channel, "error", err)
			return multierr.Combine(bufferErrs, errors.Wrapf(err, "converting %s", handOff.channel))
		}

		a.publish(ctx, handOff.channel, handOff.set, cloud)

		if err := bufferCloud(ctx, handOff.buf, cloud, handOff.set); err != nil {
			a.Logger.Warnw("failed to buffer observation", "channel", handOff.channel, "error", err)
			bufferErrs = multierr.Append(bufferErrs, errors.Wrapf(err, "buffering %s", handOff.channel))
		}
	}
	return bufferErrs
}

// publish sends the set to the publisher, if any. Failures are logged only.
func (a *Aggregator) publish(ctx context.Context, channel string, set Set, cloud pointcloud.PointCloud) {
	if a.Publisher == nil {
		return
	}
	obj, err := CloudToProto(cloud, set.FrameID)
	if err == nil {
		err = a.Publisher.Publish(ctx, channel, set.Stamp, obj)
	}
	if err != nil {
		a.Logger.Warnw("failed to publish observation", "channel", channel, "error", err)
	}
}

func bufferCloud(ctx context.Context, buf Buffer, cloud pointcloud.PointCloud, set Set) error {
	if buf == nil {
		return nil
	}
	buf.Lock()
	defer buf.Unlock()
	return buf.BufferCloud(ctx, cloud, set.Stamp, set.FrameID)
}
