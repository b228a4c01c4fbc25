// Package config implements functions to assist with attribute evaluation in the depth layer.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rutils "go.viam.com/rdk/utils"
	"go.viam.com/utils"

	"github.com/viam-modules/depth-layer/classifier"
	"github.com/viam-modules/depth-layer/groundplane"
	"github.com/viam-modules/depth-layer/observation"
)

const (
	defaultGroundOrientationThreshold = 0.9
	defaultMinObstacleHeight          = 0.0
	defaultMaxObstacleHeight          = 2.0
	defaultTransformToleranceSec      = 0.5
	defaultObstacleRange              = 2.5
	defaultRaytraceRange              = 3.0
	defaultDataFrequencyHz            = 5
)

// newError returns an error specific to a failure in the depth layer config.
func newError(configError string) error {
	return errors.Errorf("depth layer configuration error: %s", configError)
}

// TranslationConfig is a translation in depth units.
type TranslationConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// OrientationConfig is an orientation vector with its rotation in degrees.
type OrientationConfig struct {
	OX    float64 `json:"o_x"`
	OY    float64 `json:"o_y"`
	OZ    float64 `json:"o_z"`
	Theta float64 `json:"theta"`
}

// StaticTransformConfig is the fixed pose of the child frame in the parent frame.
type StaticTransformConfig struct {
	Parent      string             `json:"parent"`
	Child       string             `json:"child"`
	Translation TranslationConfig  `json:"translation"`
	Orientation *OrientationConfig `json:"orientation,omitempty"`
}

// Pose returns the transform as a pose.
func (stc StaticTransformConfig) Pose() spatialmath.Pose {
	point := r3.Vector{X: stc.Translation.X, Y: stc.Translation.Y, Z: stc.Translation.Z}
	if stc.Orientation == nil {
		return spatialmath.NewPoseFromPoint(point)
	}
	return spatialmath.NewPose(point, &spatialmath.OrientationVectorDegrees{
		OX:    stc.Orientation.OX,
		OY:    stc.Orientation.OY,
		OZ:    stc.Orientation.OZ,
		Theta: stc.Orientation.Theta,
	})
}

// Config describes how to configure the depth layer.
type Config struct {
	DepthCamera   string `json:"depth_camera"`
	BaseFrame     string `json:"base_frame,omitempty"`
	GlobalFrame   string `json:"global_frame,omitempty"`
	PublishDir    string `json:"publish_dir,omitempty"`
	DataFrequency *int   `json:"data_frequency_hz,omitempty"`

	PublishObservations            bool     `json:"publish_observations,omitempty"`
	ObservationSeparationThreshold *float64 `json:"observation_separation_threshold,omitempty"`
	FindGroundPlane                *bool    `json:"find_ground_plane,omitempty"`
	GroundOrientationThreshold     *float64 `json:"ground_orientation_threshold,omitempty"`
	ClearNaNs                      bool     `json:"clear_nans,omitempty"`

	MinObstacleHeight *float64 `json:"min_obstacle_height,omitempty"`
	MaxObstacleHeight *float64 `json:"max_obstacle_height,omitempty"`
	MinClearingHeight *float64 `json:"min_clearing_height,omitempty"`
	MaxClearingHeight *float64 `json:"max_clearing_height,omitempty"`

	SkipRaysTop          *int `json:"skip_rays_top,omitempty"`
	SkipRaysBottom       *int `json:"skip_rays_bottom,omitempty"`
	SkipRaysLeft         *int `json:"skip_rays_left,omitempty"`
	SkipRaysRight        *int `json:"skip_rays_right,omitempty"`
	ClearWithSkippedRays bool `json:"clear_with_skipped_rays,omitempty"`

	ObservationKeepTimeSec *float64 `json:"observation_keep_time_sec,omitempty"`
	ExpectedUpdateRateSec  *float64 `json:"expected_update_rate_sec,omitempty"`
	TransformToleranceSec  *float64 `json:"transform_tolerance_sec,omitempty"`
	ObstacleRange          *float64 `json:"obstacle_range,omitempty"`
	RaytraceRange          *float64 `json:"raytrace_range,omitempty"`

	StaticTransforms []StaticTransformConfig `json:"static_transforms,omitempty"`
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	var err error
	if config.DepthCamera == "" {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "depth_camera"))
	}
	if config.PublishObservations && config.PublishDir == "" {
		err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path, "publish_dir"))
	}
	if config.DataFrequency != nil && *config.DataFrequency < 0 {
		err = multierr.Append(err, errors.New("cannot specify data_frequency_hz less than zero"))
	}

	nonNegative := []struct {
		name  string
		value *float64
	}{
		{"observation_separation_threshold", config.ObservationSeparationThreshold},
		{"ground_orientation_threshold", config.GroundOrientationThreshold},
		{"observation_keep_time_sec", config.ObservationKeepTimeSec},
		{"expected_update_rate_sec", config.ExpectedUpdateRateSec},
		{"transform_tolerance_sec", config.TransformToleranceSec},
		{"obstacle_range", config.ObstacleRange},
		{"raytrace_range", config.RaytraceRange},
	}
	for _, param := range nonNegative {
		if param.value != nil && *param.value < 0 {
			err = multierr.Append(err, errors.Errorf("cannot specify %s less than zero", param.name))
		}
	}

	margins := []struct {
		name  string
		value *int
	}{
		{"skip_rays_top", config.SkipRaysTop},
		{"skip_rays_bottom", config.SkipRaysBottom},
		{"skip_rays_left", config.SkipRaysLeft},
		{"skip_rays_right", config.SkipRaysRight},
	}
	for _, param := range margins {
		if param.value != nil && *param.value < 0 {
			err = multierr.Append(err, errors.Errorf("cannot specify %s less than zero", param.name))
		}
	}

	if minH, maxH := floatOr(config.MinObstacleHeight, defaultMinObstacleHeight),
		floatOr(config.MaxObstacleHeight, defaultMaxObstacleHeight); minH > maxH {
		err = multierr.Append(err, errors.New("min_obstacle_height cannot exceed max_obstacle_height"))
	}
	if minH, maxH := floatOr(config.MinClearingHeight, math.Inf(-1)),
		floatOr(config.MaxClearingHeight, math.Inf(1)); minH > maxH {
		err = multierr.Append(err, errors.New("min_clearing_height cannot exceed max_clearing_height"))
	}

	for i, tf := range config.StaticTransforms {
		if tf.Parent == "" {
			err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path,
				fmt.Sprintf("static_transforms.%d.parent", i)))
		}
		if tf.Child == "" {
			err = multierr.Append(err, utils.NewConfigValidationFieldRequiredError(path,
				fmt.Sprintf("static_transforms.%d.child", i)))
		}
		if tf.Parent != "" && tf.Parent == tf.Child {
			err = multierr.Append(err, errors.Errorf("static_transforms.%d: parent and child are both %q", i, tf.Parent))
		}
	}

	if err != nil {
		return nil, err
	}
	return []string{config.DepthCamera}, nil
}

// Options are the resolved depth layer parameters.
type Options struct {
	DepthCamera                string
	DataFrequencyHz            int
	PublishObservations        bool
	PublishDir                 string
	FindGroundPlane            bool
	GroundOrientationThreshold float64
	BaseFrame                  string
	ClearNaNs                  bool
	Classifier                 classifier.Config
	MarkingBuffer              observation.BufferConfig
	ClearingBuffer             observation.BufferConfig
	StaticTransforms           []groundplane.StaticTransform
}

// GetOptionalParameters sets any unset optional config parameters to their defaults and returns
// the resolved options. Buffers are returned without a transform provider.
func GetOptionalParameters(config *Config, logger logging.Logger) Options {
	opts := Options{
		DepthCamera:         config.DepthCamera,
		PublishObservations: config.PublishObservations,
		PublishDir:          config.PublishDir,
		ClearNaNs:           config.ClearNaNs,
		BaseFrame:           config.BaseFrame,
	}

	if config.BaseFrame == "" {
		opts.BaseFrame = groundplane.DefaultBaseFrame
		logger.Debugf("no base_frame given, setting to default value of %s", groundplane.DefaultBaseFrame)
	}

	opts.DataFrequencyHz = defaultDataFrequencyHz
	if config.DataFrequency == nil {
		logger.Debugf("no data_frequency_hz given, setting to default value of %d", defaultDataFrequencyHz)
	} else {
		opts.DataFrequencyHz = *config.DataFrequency
	}

	opts.FindGroundPlane = true
	if config.FindGroundPlane == nil {
		logger.Debug("no find_ground_plane given, fitting the ground plane from depth")
	} else {
		opts.FindGroundPlane = *config.FindGroundPlane
	}

	opts.GroundOrientationThreshold = floatParam(logger, "ground_orientation_threshold",
		config.GroundOrientationThreshold, defaultGroundOrientationThreshold)

	opts.Classifier = classifier.Config{
		ObservationSeparationThreshold: floatParam(logger, "observation_separation_threshold",
			config.ObservationSeparationThreshold, classifier.DefaultObservationSeparationThreshold),
		SkipRaysTop:          intParam(logger, "skip_rays_top", config.SkipRaysTop, classifier.DefaultSkipRays),
		SkipRaysBottom:       intParam(logger, "skip_rays_bottom", config.SkipRaysBottom, classifier.DefaultSkipRays),
		SkipRaysLeft:         intParam(logger, "skip_rays_left", config.SkipRaysLeft, classifier.DefaultSkipRays),
		SkipRaysRight:        intParam(logger, "skip_rays_right", config.SkipRaysRight, classifier.DefaultSkipRays),
		ClearWithSkippedRays: config.ClearWithSkippedRays,
	}

	buffer := observation.BufferConfig{
		KeepTime:           seconds(floatParam(logger, "observation_keep_time_sec", config.ObservationKeepTimeSec, 0)),
		ExpectedUpdateRate: seconds(floatParam(logger, "expected_update_rate_sec", config.ExpectedUpdateRateSec, 0)),
		TransformTolerance: seconds(floatParam(logger, "transform_tolerance_sec",
			config.TransformToleranceSec, defaultTransformToleranceSec)),
		ObstacleRange: floatParam(logger, "obstacle_range", config.ObstacleRange, defaultObstacleRange),
		RaytraceRange: floatParam(logger, "raytrace_range", config.RaytraceRange, defaultRaytraceRange),
		GlobalFrame:   config.GlobalFrame,
	}

	opts.MarkingBuffer = buffer
	opts.MarkingBuffer.Name = observation.MarkingChannel
	opts.MarkingBuffer.MinHeight = floatParam(logger, "min_obstacle_height", config.MinObstacleHeight, defaultMinObstacleHeight)
	opts.MarkingBuffer.MaxHeight = floatParam(logger, "max_obstacle_height", config.MaxObstacleHeight, defaultMaxObstacleHeight)

	opts.ClearingBuffer = buffer
	opts.ClearingBuffer.Name = observation.ClearingChannel
	opts.ClearingBuffer.MinHeight = floatParam(logger, "min_clearing_height", config.MinClearingHeight, math.Inf(-1))
	opts.ClearingBuffer.MaxHeight = floatParam(logger, "max_clearing_height", config.MaxClearingHeight, math.Inf(1))

	for _, tf := range config.StaticTransforms {
		opts.StaticTransforms = append(opts.StaticTransforms, groundplane.StaticTransform{
			Parent: tf.Parent,
			Child:  tf.Child,
			Pose:   tf.Pose(),
		})
	}

	return opts
}

// Load reads a JSON attribute file and validates it.
func Load(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %s", path)
	}
	var attributes rutils.AttributeMap
	if err := json.Unmarshal(data, &attributes); err != nil {
		return nil, newError(err.Error())
	}
	return FromAttributes(attributes, path)
}

// FromAttributes decodes and validates an attribute map.
func FromAttributes(attributes rutils.AttributeMap, path string) (*Config, error) {
	cfg, err := resource.TransformAttributeMap[*Config](attributes)
	if err != nil {
		return nil, newError(err.Error())
	}
	if _, err := cfg.Validate(path); err != nil {
		return nil, newError(err.Error())
	}
	return cfg, nil
}

func floatOr(value *float64, def float64) float64 {
	if value == nil {
		return def
	}
	return *value
}

func floatParam(logger logging.Logger, name string, value *float64, def float64) float64 {
	if value == nil {
		logger.Debugf("no %s given, setting to default value of %v", name, def)
		return def
	}
	return *value
}

func intParam(logger logging.Logger, name string, value *int, def int) int {
	if value == nil {
		logger.Debugf("no %s given, setting to default value of %d", name, def)
		return def
	}
	return *value
}

func seconds(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
