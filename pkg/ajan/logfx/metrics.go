package logfx

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// MetricsBuilder is a thin convenience wrapper over an otel Meter, used by
// processfx to register restart/heartbeat/escalation counters without every
// call site having to deal with otel's error-returning constructors.
type MetricsBuilder struct {
	meter metric.Meter
}

func (b *MetricsBuilder) Counter(name, description string) metric.Int64Counter {
	counter, err := b.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		panic(fmt.Sprintf("logfx: failed to create counter %q: %v", name, err))
	}

	return counter
}

func (b *MetricsBuilder) Histogram(name, description, unit string) metric.Float64Histogram {
	histogram, err := b.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		panic(fmt.Sprintf("logfx: failed to create histogram %q: %v", name, err))
	}

	return histogram
}

func (b *MetricsBuilder) Gauge(name, description, unit string) metric.Int64ObservableGauge {
	gauge, err := b.meter.Int64ObservableGauge(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		panic(fmt.Sprintf("logfx: failed to create gauge %q: %v", name, err))
	}

	return gauge
}
