package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "conductor"

// Metrics holds the pipeline metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	StagesSkipped metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("conductor.runs.started",
		metric.WithDescription("Number of pipeline runs accepted through the admin API"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("conductor.runs.completed",
		metric.WithDescription("Number of pipeline runs that reached the terminal stage"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("conductor.runs.failed",
		metric.WithDescription("Number of pipeline runs that failed terminally"))
	if err != nil {
		return nil, err
	}

	m.StagesSkipped, err = meter.Int64Counter("conductor.stages.skipped",
		metric.WithDescription("Number of stages skipped on resume"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
