package builds

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	hotel "github.com/onkernel/layerbuild/lib/otel"
)

// Metrics records build outcomes and the queue length.
type Metrics struct {
	*hotel.BuildMetrics
}

// NewMetrics creates the build instruments and observes the queue length.
func NewMetrics(meter metric.Meter, queue *BuildQueue) (*Metrics, error) {
	bm, err := hotel.NewBuildMetrics(meter)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(bm.BuildQueueLength, int64(queue.PendingCount()))
			return nil
		},
		bm.BuildQueueLength,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{BuildMetrics: bm}, nil
}

// RecordBuild records metrics for a completed build. failedStep is -1 when
// no step failed.
func (m *Metrics) RecordBuild(ctx context.Context, status string, failedStep int, duration time.Duration) {
	step := "none"
	if failedStep >= 0 {
		step = strconv.Itoa(failedStep)
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("failed_step", step),
	)

	m.BuildDuration.Record(ctx, duration.Seconds(), attrs)
	m.BuildsTotal.Add(ctx, 1, attrs)
}
