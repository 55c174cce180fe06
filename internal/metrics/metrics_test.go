package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/christopherjohns/tablecast/internal/config"
	"github.com/christopherjohns/tablecast/internal/logger"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	m, err := NewWithMeter(mp.Meter(meterName))
	if err != nil {
		t.Fatalf("NewWithMeter: %v", err)
	}
	return m, reader
}

func sumByAttr(t *testing.T, reader *sdkmetric.ManualReader, name, key string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestEventDroppedByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EventDropped(ctx, "unauthorized")
	m.EventDropped(ctx, "unauthorized")
	m.EventDropped(ctx, "malformed")

	got := sumByAttr(t, reader, "tablecast.events.dropped", "reason")
	if got["unauthorized"] != 2 || got["malformed"] != 1 {
		t.Errorf("dropped = %v", got)
	}
}

func TestConnectionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ConnectionOpened(ctx)
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)

	got := sumByAttr(t, reader, "tablecast.connections", "none")
	if got[""] != 1 {
		t.Errorf("connections = %v, want 1", got)
	}
}

func TestFramesDelivered(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesDelivered(ctx, "order_update", 3)
	m.FramesDelivered(ctx, "order_update", 0)
	m.EventReceived(ctx, "socket", "order_update")

	if got := sumByAttr(t, reader, "tablecast.events.delivered", "event"); got["order_update"] != 3 {
		t.Errorf("delivered = %v", got)
	}
	if got := sumByAttr(t, reader, "tablecast.events.received", "source"); got["socket"] != 1 {
		t.Errorf("received = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.EventReceived(ctx, "socket", "x")
	m.FramesDelivered(ctx, "x", 1)
	m.EventDropped(ctx, "x")
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{}, "tablecast", logger.Discard())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
