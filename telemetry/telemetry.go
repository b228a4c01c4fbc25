// Package telemetry reports the depth layer's trace spans and stats.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// DefaultReportingInterval is how often spans and stats are reported when no interval is given.
const DefaultReportingInterval = time.Second

// SetupTelemetry starts an exporter that prints the spans opened while processing depth frames.
// The caller stops the returned exporter.
func SetupTelemetry(reportingInterval time.Duration) (perf.Exporter, error) {
	if reportingInterval <= 0 {
		reportingInterval = DefaultReportingInterval
	}
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: reportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}
	return exporter, nil
}
