// Package main replays a recorded depth stream through the depth layer.
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	depthlayer "github.com/viam-modules/depth-layer"
	"github.com/viam-modules/depth-layer/config"
	"github.com/viam-modules/depth-layer/dataprocess"
	"github.com/viam-modules/depth-layer/groundplane"
	"github.com/viam-modules/depth-layer/observation"
	"github.com/viam-modules/depth-layer/sensorprocess"
	"github.com/viam-modules/depth-layer/sensors"
	"github.com/viam-modules/depth-layer/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

const (
	validationTimeout  = 5 * time.Second
	validationInterval = 100 * time.Millisecond
)

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=depth layer attributes file"`
	Recording  string `flag:"recording,usage=recorded camera info and depth frames"`
	OutputDir  string `flag:"output,usage=directory observations are written to"`
	Telemetry  bool   `flag:"telemetry,usage=report trace spans"`
	Debug      bool   `flag:"debug,usage=enable debug logging"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("depthLayer"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow("depth layer", versionFields...)
	} else {
		logger.Info("depth layer built from source; version unknown")
	}

	if len(args) == 2 && strings.HasSuffix(args[1], "-version") {
		return nil
	}

	argsParsed, err := parse(args)
	if err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = logging.NewDebugLogger("depthLayer")
	}

	if argsParsed.Telemetry {
		exporter, err := telemetry.SetupTelemetry(telemetry.DefaultReportingInterval)
		if err != nil {
			return err
		}
		defer exporter.Stop()
	}

	cfg, err := config.Load(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	opts := config.GetOptionalParameters(cfg, logger)
	if argsParsed.OutputDir != "" {
		if err := os.MkdirAll(argsParsed.OutputDir, 0o750); err != nil {
			return err
		}
		opts.PublishObservations = true
		opts.PublishDir = argsParsed.OutputDir
	}

	rec, err := sensors.LoadRecording(argsParsed.Recording)
	if err != nil {
		return err
	}
	if err := sensors.ValidateGetData(
		ctx,
		sensors.NewReplayDepthCamera(opts.DepthCamera, rec, 0),
		validationTimeout,
		validationInterval,
		logger,
	); err != nil {
		return errors.Wrap(err, "recording has no usable depth frame")
	}

	var transforms groundplane.TransformProvider
	if len(opts.StaticTransforms) > 0 {
		transforms = groundplane.NewStaticTransforms(opts.StaticTransforms...)
	}
	markingCfg, clearingCfg := opts.MarkingBuffer, opts.ClearingBuffer
	markingCfg.Transforms = transforms
	clearingCfg.Transforms = transforms
	marking := observation.NewMemoryBuffer(markingCfg, logger)
	clearing := observation.NewMemoryBuffer(clearingCfg, logger)

	layer, err := depthlayer.New(opts, depthlayer.Deps{
		Transforms: transforms,
		Marking:    marking,
		Clearing:   clearing,
	}, logger)
	if err != nil {
		return err
	}

	marking.ResetLastUpdated()
	clearing.ResetLastUpdated()

	camera := sensors.NewReplayDepthCamera(opts.DepthCamera, rec, opts.DataFrequencyHz)
	spConfig := sensorprocess.Config{
		Layer:      layer,
		Camera:     camera,
		CameraInfo: camera,
		Logger:     logger,
	}
	if !spConfig.Run(ctx) {
		return ctx.Err()
	}

	report(marking, argsParsed.OutputDir, logger)
	report(clearing, argsParsed.OutputDir, logger)
	return nil
}

func parse(args []string) (Arguments, error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return argsParsed, err
	}
	if argsParsed.ConfigFile == "" {
		return argsParsed, errors.New("config is required")
	}
	if argsParsed.Recording == "" {
		return argsParsed, errors.New("recording is required")
	}
	return argsParsed, nil
}

// report logs what a buffer holds at the end of the replay and, when an output directory is
// given, writes the newest buffered cloud next to the published observations. Returns whether
// the buffer was updated within its expected update rate.
func report(buffer *observation.MemoryBuffer, outputDir string, logger logging.Logger) bool {
	name := buffer.Name()
	current := buffer.IsCurrent()
	observations := buffer.Observations()
	if len(observations) == 0 {
		logger.Infow("buffer is empty", "buffer", name, "current", current)
		return current
	}

	total := 0
	for _, obs := range observations {
		total += obs.Cloud.Size()
	}
	newest := observations[0]
	logger.Infow("buffered observations",
		"buffer", name,
		"observations", len(observations),
		"points", total,
		"newest", newest.Stamp,
		"frame", newest.FrameID,
		"current", current,
	)

	if outputDir == "" {
		return current
	}
	filename := dataprocess.CreateTimestampFilename(outputDir, name+"_buffer", dataprocess.PCDFileType, newest.Stamp)
	if err := dataprocess.WritePCDToFile(newest.Cloud, filename); err != nil {
		logger.Warnw("failed to write buffered cloud", "buffer", name, "error", err)
	}
	return current
}
