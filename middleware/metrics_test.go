package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/taskrun/middleware"
	"github.com/xraph/taskrun/unit"
)

// meterHarness runs invocations through the metrics middleware and reads
// back what it recorded.
type meterHarness struct {
	reader *sdkmetric.ManualReader
	m      mw.Middleware
}

func newMeterHarness() *meterHarness {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &meterHarness{reader: reader, m: mw.MetricsWithMeter(mp.Meter("taskrun-test"))}
}

func (h *meterHarness) run(ctx context.Context, inv *mw.Invocation, err error) {
	_ = h.m(ctx, inv, func(context.Context) error { return err })
}

// executions returns the counter value per (unit, kind, status).
func (h *meterHarness) executions(t *testing.T) map[[3]string]int64 {
	t.Helper()
	out := make(map[[3]string]int64)
	for _, dp := range h.sum(t, "taskrun.unit.executions").DataPoints {
		out[pointKey(dp.Attributes)] = dp.Value
	}
	return out
}

// durations returns the histogram sample count per (unit, kind, status).
func (h *meterHarness) durations(t *testing.T) map[[3]string]uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[[3]string]uint64)
	hist, ok := find(rm, "taskrun.unit.duration").(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("taskrun.unit.duration is missing or not a float64 histogram")
	}
	for _, dp := range hist.DataPoints {
		out[pointKey(dp.Attributes)] = dp.Count
	}
	return out
}

func (h *meterHarness) sum(t *testing.T, name string) metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	s, ok := find(rm, name).(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is missing or not an int64 sum", name)
	}
	return s
}

func find(rm metricdata.ResourceMetrics, name string) metricdata.Aggregation {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}

func pointKey(set attribute.Set) [3]string {
	get := func(k string) string {
		v, _ := set.Value(attribute.Key(k))
		return v.AsString()
	}
	return [3]string{get("unit"), get("kind"), get("status")}
}

func onDemand(name string) *mw.Invocation {
	inv := newInvocation(name)
	inv.Kind = unit.KindWorkflow
	inv.Trigger = nil
	return inv
}

func TestMetrics_StatusFollowsOutcome(t *testing.T) {
	expired, cancelExpired := context.WithTimeout(context.Background(), 0)
	defer cancelExpired()
	<-expired.Done()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		inv  *mw.Invocation
		ctx  context.Context
		err  error
		want [3]string
	}{
		{"recurring success", newInvocation("expire-enrollments"), context.Background(), nil,
			[3]string{"expire-enrollments", "task", "ok"}},
		{"on-demand failure", onDemand("wf_send_creds_v1"), context.Background(), errors.New("smtp: 451"),
			[3]string{"wf_send_creds_v1", "workflow", "error"}},
		{"deadline", newInvocation("expire-enrollments"), expired, context.DeadlineExceeded,
			[3]string{"expire-enrollments", "task", "timeout"}},
		{"caller cancelled", onDemand("wf_send_creds_v1"), cancelled, context.Canceled,
			[3]string{"wf_send_creds_v1", "workflow", "cancelled"}},
		{"panic", newInvocation("expire-enrollments"), context.Background(), &mw.PanicError{Value: "nil map"},
			[3]string{"expire-enrollments", "task", "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMeterHarness()
			h.run(tt.ctx, tt.inv, tt.err)

			if got := h.executions(t); len(got) != 1 || got[tt.want] != 1 {
				t.Errorf("executions = %v, want one point at %v", got, tt.want)
			}
			if got := h.durations(t); len(got) != 1 || got[tt.want] != 1 {
				t.Errorf("durations = %v, want one sample at %v", got, tt.want)
			}
		})
	}
}

func TestMetrics_SeriesPerUnitAndKind(t *testing.T) {
	h := newMeterHarness()
	ctx := context.Background()

	h.run(ctx, newInvocation("expire-enrollments"), nil)
	h.run(ctx, newInvocation("expire-enrollments"), nil)
	h.run(ctx, onDemand("wf_send_creds_v1"), nil)
	h.run(ctx, onDemand("wf_send_creds_v1"), errors.New("template missing"))

	want := map[[3]string]int64{
		{"expire-enrollments", "task", "ok"}:      2,
		{"wf_send_creds_v1", "workflow", "ok"}:    1,
		{"wf_send_creds_v1", "workflow", "error"}: 1,
	}
	got := h.executions(t)
	if len(got) != len(want) {
		t.Fatalf("executions = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("executions[%v] = %d, want %d", k, got[k], v)
		}
	}

	// Recurring and on-demand runs of the same name are separate series.
	if _, mixed := got[[3]string{"expire-enrollments", "workflow", "ok"}]; mixed {
		t.Error("task runs leaked into a workflow series")
	}
}

func TestMetrics_RecordedWhenInvocationContextEnds(t *testing.T) {
	h := newMeterHarness()
	ctx, cancel := context.WithCancel(context.Background())

	_ = h.m(ctx, newInvocation("expire-enrollments"), func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	key := [3]string{"expire-enrollments", "task", "cancelled"}
	if got := h.executions(t)[key]; got != 1 {
		t.Fatalf("executions[%v] = %d, want 1", key, got)
	}
}

func TestMetrics_PassesErrorThrough(t *testing.T) {
	h := newMeterHarness()
	want := errors.New("repository unavailable")

	err := h.m(context.Background(), newInvocation("expire-enrollments"), func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
