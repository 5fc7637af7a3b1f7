package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/narravox/narravox/internal/observe"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics_InstrumentsRecord(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordResolution(ctx, "heuristic")
	m.RecordResolution(ctx, "heuristic")
	m.RecordResolution(ctx, "llm")
	m.RecordCacheLookup(ctx, "miss")
	m.RecordInference(ctx, "ok", 1.2)
	m.RecordSchemaRejection(ctx)
	m.RecordFallback(ctx, "continuity")

	got := collect(t, reader)

	res, ok := got["narravox.resolutions"]
	if !ok {
		t.Fatal("narravox.resolutions not collected")
	}
	sum, ok := res.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("resolutions data type %T, want Sum[int64]", res.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("resolutions total=%d, want 3", total)
	}

	for _, name := range []string{
		"narravox.cache.lookups",
		"narravox.inference.attempts",
		"narravox.inference.schema_rejections",
		"narravox.fallbacks",
		"narravox.inference.duration",
	} {
		if _, ok := got[name]; !ok {
			t.Errorf("instrument %s not collected", name)
		}
	}
}

func TestDefaultMetrics_Stable(t *testing.T) {
	t.Parallel()

	a := observe.DefaultMetrics()
	b := observe.DefaultMetrics()
	if a == nil || a != b {
		t.Error("DefaultMetrics must return the same non-nil instance")
	}
}
