package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func testTrigger() (ledger.TriggerIdentity, ledger.Window) {
	start := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	return ledger.TriggerIdentity{TaskName: "expire-enrollments", ProfileID: "daily", ProfileType: "cron"},
		ledger.Window{Start: start, End: start.Add(24 * time.Hour)}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_ClaimCounters(t *testing.T) {
	e, reader := newTestExtension()
	ti, w := testTrigger()
	ctx := context.Background()

	if err := e.OnTriggerClaimed(ctx, ti, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = e.OnClaimSkipped(ctx, ti, w)
	_ = e.OnClaimSkipped(ctx, ti, w)

	if got := counterValue(t, reader, "taskrun.trigger.claimed"); got != 1 {
		t.Errorf("claimed: want 1, got %d", got)
	}
	if got := counterValue(t, reader, "taskrun.trigger.skipped"); got != 2 {
		t.Errorf("skipped: want 2, got %d", got)
	}
}

func TestMetricsExtension_OutcomeCounters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	ti, _ := testTrigger()
	rec := &ledger.Record{UnitName: ti.TaskName, Trigger: &ti}

	_ = e.OnUnitSucceeded(ctx, rec)
	_ = e.OnUnitFailed(ctx, &ledger.Record{UnitName: "wf", ErrorKind: ledger.KindTimeout}, errors.New("late"))
	_ = e.OnUnitCancelled(ctx, &ledger.Record{UnitName: "wf"})
	_ = e.OnRecordFailed(ctx, rec, errors.New("db down"))

	for name, want := range map[string]int64{
		"taskrun.unit.succeeded":      1,
		"taskrun.unit.failed":         1,
		"taskrun.unit.cancelled":      1,
		"taskrun.ledger.write_failed": 1,
	} {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestMetricsExtension_CronFired(t *testing.T) {
	e, reader := newTestExtension()
	ti, w := testTrigger()
	if err := e.OnCronFired(context.Background(), "daily", ti, w.Start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "taskrun.cron.fired"); got != 1 {
		t.Errorf("cron fired: want 1, got %d", got)
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	e, reader := newTestExtension()
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register(e)

	ti, w := testTrigger()
	r.EmitTriggerClaimed(context.Background(), ti, w)
	r.EmitUnitSucceeded(context.Background(), &ledger.Record{UnitName: ti.TaskName, Trigger: &ti})

	if got := counterValue(t, reader, "taskrun.trigger.claimed"); got != 1 {
		t.Errorf("claimed via registry: want 1, got %d", got)
	}
	if got := counterValue(t, reader, "taskrun.unit.succeeded"); got != 1 {
		t.Errorf("succeeded via registry: want 1, got %d", got)
	}
}

func TestMetricsExtension_GlobalProviderSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	ti, w := testTrigger()
	if err := e.OnTriggerClaimed(context.Background(), ti, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
