package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.TriggerClaimed = (*MetricsExtension)(nil)
	_ ext.ClaimSkipped   = (*MetricsExtension)(nil)
	_ ext.UnitSucceeded  = (*MetricsExtension)(nil)
	_ ext.UnitFailed     = (*MetricsExtension)(nil)
	_ ext.UnitCancelled  = (*MetricsExtension)(nil)
	_ ext.RecordFailed   = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/taskrun/observability"

// MetricsExtension records system-wide lifecycle counters through an OTel
// meter. Register it as a taskrun extension to track claim contention,
// outcome rates and ledger health.
type MetricsExtension struct {
	TriggerClaimed metric.Int64Counter
	ClaimSkipped   metric.Int64Counter
	UnitSucceeded  metric.Int64Counter
	UnitFailed     metric.Int64Counter
	UnitCancelled  metric.Int64Counter
	RecordFailed   metric.Int64Counter
	CronFired      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors leave the API's noop instruments in
// place.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
		return c
	}
	return &MetricsExtension{
		TriggerClaimed: counter("taskrun.trigger.claimed", "Recurring fires that won their window"),
		ClaimSkipped:   counter("taskrun.trigger.skipped", "Recurring fires whose window was already claimed"),
		UnitSucceeded:  counter("taskrun.unit.succeeded", "Units that finished with SUCCESS"),
		UnitFailed:     counter("taskrun.unit.failed", "Units that finished with FAILURE"),
		UnitCancelled:  counter("taskrun.unit.cancelled", "Units cancelled by their caller"),
		RecordFailed:   counter("taskrun.ledger.write_failed", "Outcome writes rejected by the ledger"),
		CronFired:      counter("taskrun.cron.fired", "Cron profile fires"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Claim hooks ─────────────────────────────────────

// OnTriggerClaimed implements ext.TriggerClaimed.
func (m *MetricsExtension) OnTriggerClaimed(ctx context.Context, t ledger.TriggerIdentity, _ ledger.Window) error {
	m.TriggerClaimed.Add(ctx, 1, triggerAttrs(t))
	return nil
}

// OnClaimSkipped implements ext.ClaimSkipped.
func (m *MetricsExtension) OnClaimSkipped(ctx context.Context, t ledger.TriggerIdentity, _ ledger.Window) error {
	m.ClaimSkipped.Add(ctx, 1, triggerAttrs(t))
	return nil
}

// ── Unit lifecycle hooks ────────────────────────────

// OnUnitSucceeded implements ext.UnitSucceeded.
func (m *MetricsExtension) OnUnitSucceeded(ctx context.Context, r *ledger.Record) error {
	m.UnitSucceeded.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnUnitFailed implements ext.UnitFailed.
func (m *MetricsExtension) OnUnitFailed(ctx context.Context, r *ledger.Record, _ error) error {
	m.UnitFailed.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnUnitCancelled implements ext.UnitCancelled.
func (m *MetricsExtension) OnUnitCancelled(ctx context.Context, r *ledger.Record) error {
	m.UnitCancelled.Add(ctx, 1, recordAttrs(r))
	return nil
}

// OnRecordFailed implements ext.RecordFailed.
func (m *MetricsExtension) OnRecordFailed(ctx context.Context, r *ledger.Record, _ error) error {
	m.RecordFailed.Add(ctx, 1, recordAttrs(r))
	return nil
}

// ── Cron hooks ──────────────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, profile string, t ledger.TriggerIdentity, _ time.Time) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("unit", t.TaskName),
	))
	return nil
}

func triggerAttrs(t ledger.TriggerIdentity) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("unit", t.TaskName),
		attribute.String("profile_type", t.ProfileType),
	)
}

func recordAttrs(r *ledger.Record) metric.AddOption {
	origin := "on_demand"
	if r.Trigger != nil {
		origin = "recurring"
	}
	return metric.WithAttributes(
		attribute.String("unit", r.UnitName),
		attribute.String("origin", origin),
		attribute.String("error_kind", string(r.ErrorKind)),
	)
}
