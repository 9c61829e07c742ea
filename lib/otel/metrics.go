package otel

import (
	"go.opentelemetry.io/otel/metric"
)

// ResolverMetrics holds metrics for base image resolution.
type ResolverMetrics struct {
	InspectionsTotal metric.Int64Counter
	InspectDuration  metric.Float64Histogram
}

// NewResolverMetrics creates metrics for the base image resolver.
func NewResolverMetrics(meter metric.Meter) (*ResolverMetrics, error) {
	inspectionsTotal, err := meter.Int64Counter(
		"layerbuild_base_image_inspections_total",
		metric.WithDescription("Total number of base image inspections by result"),
	)
	if err != nil {
		return nil, err
	}

	inspectDuration, err := meter.Float64Histogram(
		"layerbuild_base_image_inspect_duration_seconds",
		metric.WithDescription("Time to resolve and inspect a base image"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ResolverMetrics{
		InspectionsTotal: inspectionsTotal,
		InspectDuration:  inspectDuration,
	}, nil
}

// BuildMetrics holds metrics for the build manager.
type BuildMetrics struct {
	BuildQueueLength metric.Int64ObservableGauge
	BuildDuration    metric.Float64Histogram
	BuildsTotal      metric.Int64Counter
}

// NewBuildMetrics creates metrics for the build manager.
func NewBuildMetrics(meter metric.Meter) (*BuildMetrics, error) {
	buildQueueLength, err := meter.Int64ObservableGauge(
		"layerbuild_build_queue_length",
		metric.WithDescription("Current number of builds waiting for a slot"),
	)
	if err != nil {
		return nil, err
	}

	buildDuration, err := meter.Float64Histogram(
		"layerbuild_build_duration_seconds",
		metric.WithDescription("Duration of builds in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildsTotal, err := meter.Int64Counter(
		"layerbuild_builds_total",
		metric.WithDescription("Total number of builds by status and failing step"),
	)
	if err != nil {
		return nil, err
	}

	return &BuildMetrics{
		BuildQueueLength: buildQueueLength,
		BuildDuration:    buildDuration,
		BuildsTotal:      buildsTotal,
	}, nil
}
