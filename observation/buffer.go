package observation

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-modules/depth-layer/groundplane"
)

// Observation is one buffered cloud together with the sensor origin it was seen from.
type Observation struct {
	Cloud         pointcloud.PointCloud
	Origin        r3.Vector
	Stamp         time.Time
	FrameID       string
	ObstacleRange float64
	RaytraceRange float64
}

// BufferConfig holds the parameters of a MemoryBuffer.
type BufferConfig struct {
	Name string
	// KeepTime is how long observations are kept relative to the newest one. Zero keeps only
	// the newest.
	KeepTime time.Duration
	// ExpectedUpdateRate is the longest gap between updates for the buffer to be current. Zero
	// disables the check.
	ExpectedUpdateRate time.Duration
	MinHeight          float64
	MaxHeight          float64
	ObstacleRange      float64
	RaytraceRange      float64
	// GlobalFrame, when set together with Transforms, is the frame clouds are stored in and
	// the frame heights are measured in.
	GlobalFrame        string
	Transforms         groundplane.TransformProvider
	TransformTolerance time.Duration
}

// MemoryBuffer keeps recent observations in memory.
type MemoryBuffer struct {
	mu           sync.Mutex
	cfg          BufferConfig
	observations []Observation // newest first
	lastUpdated  time.Time
	now          func() time.Time
	logger       logging.Logger
}

// NewMemoryBuffer returns an empty buffer.
func NewMemoryBuffer(cfg BufferConfig, logger logging.Logger) *MemoryBuffer {
	if cfg.GlobalFrame != "" && cfg.Transforms == nil {
		logger.Warnw("global frame is set but no transforms are available, clouds are stored unfiltered in the sensor frame",
			"buffer", cfg.Name, "global_frame", cfg.GlobalFrame)
	}
	return &MemoryBuffer{cfg: cfg, now: time.Now, logger: logger}
}

// Name returns the name the buffer was configured with.
func (mb *MemoryBuffer) Name() string {
	return mb.cfg.Name
}

// Lock locks the buffer.
func (mb *MemoryBuffer) Lock() {
	mb.mu.Lock()
}

// Unlock unlocks the buffer.
func (mb *MemoryBuffer) Unlock() {
	mb.mu.Unlock()
}

// BufferCloud stores the cloud, seen in frameID at stamp, then drops observations older than
// the keep time. The caller must hold the lock.
func (mb *MemoryBuffer) BufferCloud(ctx context.Context, cloud pointcloud.PointCloud, stamp time.Time, frameID string) error {
	obs := Observation{
		Cloud:         cloud,
		Stamp:         stamp,
		FrameID:       frameID,
		ObstacleRange: mb.cfg.ObstacleRange,
		RaytraceRange: mb.cfg.RaytraceRange,
	}

	if mb.cfg.GlobalFrame != "" && mb.cfg.Transforms != nil {
		global, origin, err := mb.toGlobal(ctx, cloud, stamp, frameID)
		if err != nil {
			return err
		}
		obs.Cloud = global
		obs.Origin = origin
		obs.FrameID = mb.cfg.GlobalFrame
	}

	mb.observations = append([]Observation{obs}, mb.observations...)
	mb.lastUpdated = mb.now()
	mb.purgeStaleObservations()
	return nil
}

func (mb *MemoryBuffer) toGlobal(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	stamp time.Time,
	frameID string,
) (pointcloud.PointCloud, r3.Vector, error) {
	if mb.cfg.TransformTolerance > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mb.cfg.TransformTolerance)
		defer cancel()
	}
	pose, err := mb.cfg.Transforms.LookupTransform(ctx, mb.cfg.GlobalFrame, frameID, stamp)
	if err != nil {
		return nil, r3.Vector{}, errors.Wrapf(err, "%s: cannot transform observation from %q into %q",
			mb.cfg.Name, frameID, mb.cfg.GlobalFrame)
	}

	global := pointcloud.NewWithPrealloc(cloud.Size())
	var setErr error
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		g := spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(p)).Point()
		if g.Z < mb.cfg.MinHeight || g.Z > mb.cfg.MaxHeight {
			return true
		}
		if setErr = global.Set(g, d); setErr != nil {
			return false
		}
		return true
	})
	if setErr != nil {
		return nil, r3.Vector{}, setErr
	}
	return global, pose.Point(), nil
}

func (mb *MemoryBuffer) purgeStaleObservations() {
	if len(mb.observations) == 0 {
		return
	}
	if mb.cfg.KeepTime <= 0 {
		mb.observations = mb.observations[:1]
		return
	}
	newest := mb.observations[0].Stamp
	for i, obs := range mb.observations {
		if newest.Sub(obs.Stamp) > mb.cfg.KeepTime {
			mb.logger.Debugf("%s: dropping %d stale observations", mb.cfg.Name, len(mb.observations)-i)
			mb.observations = mb.observations[:i]
			return
		}
	}
}

// Observations returns a copy of the buffered observations, newest first. The caller must not
// hold the lock.
func (mb *MemoryBuffer) Observations() []Observation {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	observations := make([]Observation, len(mb.observations))
	copy(observations, mb.observations)
	return observations
}

// IsCurrent reports whether the buffer was updated within the expected update rate.
func (mb *MemoryBuffer) IsCurrent() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.cfg.ExpectedUpdateRate == 0 {
		return true
	}
	current := mb.now().Sub(mb.lastUpdated) <= mb.cfg.ExpectedUpdateRate
	if !current {
		mb.logger.Warnw("observation buffer is out of date",
			"buffer", mb.cfg.Name,
			"last_updated", mb.lastUpdated,
			"expected_update_rate", mb.cfg.ExpectedUpdateRate)
	}
	return current
}

// ResetLastUpdated marks the buffer as updated now.
func (mb *MemoryBuffer) ResetLastUpdated() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.lastUpdated = mb.now()
}
