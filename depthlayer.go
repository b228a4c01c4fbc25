// Package depthlayer turns depth camera frames into marking and clearing observations for an
// occupancy mapping layer.
package depthlayer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"

	"github.com/viam-modules/depth-layer/cameramodel"
	"github.com/viam-modules/depth-layer/classifier"
	"github.com/viam-modules/depth-layer/config"
	"github.com/viam-modules/depth-layer/groundplane"
	"github.com/viam-modules/depth-layer/intrinsics"
	"github.com/viam-modules/depth-layer/observation"
	s "github.com/viam-modules/depth-layer/sensors"
)

// Status is the outcome of processing one frame.
type Status int

const (
	// StatusProcessed means the frame was classified and its observations handed off.
	StatusProcessed Status = iota
	// StatusNotReady means no intrinsics were known yet and the frame was skipped.
	StatusNotReady
	// StatusNoGroundPlane means no ground plane was found and the frame was dropped.
	StatusNoGroundPlane
)

func (st Status) String() string {
	switch st {
	case StatusProcessed:
		return "processed"
	case StatusNotReady:
		return "not ready"
	case StatusNoGroundPlane:
		return "no ground plane"
	default:
		return "unknown"
	}
}

// Result describes a processed frame.
type Result struct {
	Status   Status
	Plane    groundplane.Plane
	Marking  observation.Set
	Clearing observation.Set
}

// Deps are the collaborators of a Layer. Missing buffers are replaced with in-memory buffers, a
// missing transform provider with the configured static transforms, and a missing publisher
// with a file publisher when publishing is enabled.
type Deps struct {
	Transforms groundplane.TransformProvider
	Marking    observation.Buffer
	Clearing   observation.Buffer
	Publisher  observation.Publisher
}

// Layer processes depth frames one at a time. Camera info updates may arrive concurrently with
// frame processing.
type Layer struct {
	opts       config.Options
	intrinsics *intrinsics.Store
	estimator  groundplane.Estimator
	aggregator *observation.Aggregator
	logger     logging.Logger
}

// New returns a layer for the given options. The ground plane estimator is chosen here, once.
func New(opts config.Options, deps Deps, logger logging.Logger) (*Layer, error) {
	transforms := deps.Transforms
	if transforms == nil && len(opts.StaticTransforms) > 0 {
		transforms = groundplane.NewStaticTransforms(opts.StaticTransforms...)
	}

	var estimator groundplane.Estimator
	if opts.FindGroundPlane {
		estimator = groundplane.NewGeometric(groundplane.DefaultGeometricConfig(
			opts.Classifier.ObservationSeparationThreshold,
			opts.GroundOrientationThreshold,
		))
	} else {
		if transforms == nil {
			return nil, errors.New("find_ground_plane is false but no transforms are available")
		}
		estimator = groundplane.NewReferenceFrame(opts.BaseFrame, transforms)
	}

	marking, clearing := deps.Marking, deps.Clearing
	if marking == nil {
		cfg := opts.MarkingBuffer
		cfg.Transforms = transforms
		marking = observation.NewMemoryBuffer(cfg, logger)
	}
	if clearing == nil {
		cfg := opts.ClearingBuffer
		cfg.Transforms = transforms
		clearing = observation.NewMemoryBuffer(cfg, logger)
	}

	publisher := deps.Publisher
	if !opts.PublishObservations {
		publisher = nil
	} else if publisher == nil {
		publisher = observation.NewFilePublisher(opts.PublishDir, logger)
	}

	return &Layer{
		opts:       opts,
		intrinsics: intrinsics.NewStore(),
		estimator:  estimator,
		aggregator: &observation.Aggregator{
			Marking:   marking,
			Clearing:  clearing,
			Publisher: publisher,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

// UpdateCameraInfo replaces the intrinsics used for back-projection. Camera info with unequal
// binning is rejected and the previous intrinsics are kept.
func (l *Layer) UpdateCameraInfo(info s.CameraInfo) error {
	if err := l.intrinsics.Update(info); err != nil {
		l.logger.Errorw("rejecting camera info",
			"binning_x", info.BinningX,
			"binning_y", info.BinningY,
			"error", err)
		return err
	}
	return nil
}

// ProcessDepthImage decodes a raw depth image and processes it. Images that cannot be decoded
// are dropped with an error wrapping sensors.ErrDecode.
func (l *Layer) ProcessDepthImage(ctx context.Context, raw s.RawDepthImage) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "depthlayer::Layer::ProcessDepthImage")
	defer span.End()

	frame, err := s.Decode(raw)
	if err != nil {
		return Result{}, errors.Wrapf(err, "dropping depth image from %q", raw.FrameID)
	}
	return l.ProcessFrame(ctx, frame)
}

// ProcessFrame runs one frame through back-projection, ground plane estimation and
// classification, then hands the observations off. The frame is not modified.
func (l *Layer) ProcessFrame(ctx context.Context, frame s.DepthFrame) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "depthlayer::Layer::ProcessFrame")
	defer span.End()
	start := time.Now()

	intr, ok := l.intrinsics.Snapshot()
	if !ok {
		l.logger.Debugf("no camera info received yet, skipping frame from %q", frame.FrameID)
		return Result{Status: StatusNotReady}, nil
	}

	if l.opts.ClearNaNs {
		cleared := frame
		cleared.Depth = append([]float32(nil), frame.Depth...)
		cameramodel.ClearNaNs(cleared, cameramodel.ClearDistance)
		frame = cleared
	}

	grid, err := cameramodel.Project(&intr, frame)
	if err != nil {
		return Result{}, errors.Wrapf(err, "projecting frame from %q", frame.FrameID)
	}

	plane, err := l.estimator.EstimateGroundPlane(ctx, grid, frame.FrameID)
	if err != nil {
		l.logger.Debugw("ground plane estimation failed", "frame_id", frame.FrameID, "error", err)
	}
	if plane.IsZero() {
		l.logger.Debugf("no ground plane found, dropping frame from %q", frame.FrameID)
		return Result{Status: StatusNoGroundPlane}, nil
	}

	points := classifier.Classify(grid, plane, l.opts.Classifier)
	result := Result{
		Status:   StatusProcessed,
		Plane:    plane,
		Marking:  observation.Set{Points: points.Marking, Stamp: frame.Stamp, FrameID: frame.FrameID},
		Clearing: observation.Set{Points: points.Clearing, Stamp: frame.Stamp, FrameID: frame.FrameID},
	}

	if err := l.aggregator.Deliver(ctx, result.Marking, result.Clearing); err != nil {
		return result, errors.Wrapf(err, "handing off observations from %q", frame.FrameID)
	}

	if l.logger.Level() == zapcore.DebugLevel {
		l.logger.Debugw("processed depth frame",
			"frame_id", frame.FrameID,
			"stamp", frame.Stamp,
			"plane", plane,
			"marking", len(points.Marking),
			"clearing", len(points.Clearing),
			"elapsed", time.Since(start))
	}
	return result, nil
}

// Intrinsics returns the intrinsics currently used for back-projection.
func (l *Layer) Intrinsics() (transform.PinholeCameraIntrinsics, bool) {
	return l.intrinsics.Snapshot()
}
