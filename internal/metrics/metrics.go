// Package metrics holds the OpenTelemetry instruments of the node and the
// exporter wiring behind them.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tablecast"

// Metrics holds all tablecast metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	Connections metric.Int64UpDownCounter
	Received    metric.Int64Counter
	Delivered   metric.Int64Counter
	Dropped     metric.Int64Counter
}

// New creates all metric instruments from the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates all metric instruments from meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Connections, err = meter.Int64UpDownCounter("tablecast.connections",
		metric.WithDescription("Open authenticated connections"))
	if err != nil {
		return nil, err
	}

	m.Received, err = meter.Int64Counter("tablecast.events.received",
		metric.WithDescription("Events accepted for routing"))
	if err != nil {
		return nil, err
	}

	m.Delivered, err = meter.Int64Counter("tablecast.events.delivered",
		metric.WithDescription("Frames handed to connection send buffers"))
	if err != nil {
		return nil, err
	}

	m.Dropped, err = meter.Int64Counter("tablecast.events.dropped",
		metric.WithDescription("Events or frames dropped, by reason"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, -1)
}

// EventReceived counts one routed event. source is "socket" or "ingress".
func (m *Metrics) EventReceived(ctx context.Context, source, eventType string) {
	if m == nil {
		return
	}
	m.Received.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("event", eventType),
	))
}

func (m *Metrics) FramesDelivered(ctx context.Context, eventType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Delivered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event", eventType)))
}

func (m *Metrics) EventDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
