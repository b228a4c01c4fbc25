// Package inject provides injectable observation buffers and publishers for testing.
package inject

import (
	"context"
	"time"

	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/pointcloud"

	"github.com/viam-modules/depth-layer/observation"
)

// Buffer is an injectable observation buffer.
type Buffer struct {
	observation.Buffer
	LockFunc        func()
	UnlockFunc      func()
	BufferCloudFunc func(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error
}

// Lock calls the injected Lock or the real version.
func (b *Buffer) Lock() {
	if b.LockFunc == nil {
		b.Buffer.Lock()
		return
	}
	b.LockFunc()
}

// Unlock calls the injected Unlock or the real version.
func (b *Buffer) Unlock() {
	if b.UnlockFunc == nil {
		b.Buffer.Unlock()
		return
	}
	b.UnlockFunc()
}

// BufferCloud calls the injected BufferCloud or the real version.
func (b *Buffer) BufferCloud(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
	if b.BufferCloudFunc == nil {
		return b.Buffer.BufferCloud(ctx, cloud, stamp, frameID)
	}
	return b.BufferCloudFunc(ctx, cloud, stamp, frameID)
}

// Publisher is an injectable observation publisher.
type Publisher struct {
	observation.Publisher
	PublishFunc func(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error
}

// Publish calls the injected Publish or the real version.
func (p *Publisher) Publish(ctx context.Context, channel string, stamp time.Time, obj *commonpb.PointCloudObject) error {
	if p.PublishFunc == nil {
		return p.Publisher.Publish(ctx, channel, stamp, obj)
	}
	return p.PublishFunc(ctx, channel, stamp, obj)
}
