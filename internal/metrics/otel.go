package metrics

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OTELMetrics implements MetricsRecorder using OpenTelemetry
type OTELMetrics struct {
	// Lifecycle metrics
	flowsStarted  metric.Int64Counter
	flowDuration  metric.Float64Histogram
	flowErrors    metric.Int64Counter
	stageDuration metric.Float64Histogram

	// Search metrics
	searchAttempts        metric.Int64Counter
	searchAttemptDuration metric.Float64Histogram
	searchLength          metric.Int64Histogram

	// Submission metrics
	submissions   metric.Int64Counter
	submissionFee metric.Float64Histogram

	// Resource metrics
	pendingRequests metric.Int64Gauge
	breakerChanges  metric.Int64Counter

	logger *zap.Logger
}

// NewOTELMetrics creates a new OpenTelemetry metrics recorder
func NewOTELMetrics(meter metric.Meter, logger *zap.Logger) (*OTELMetrics, error) {
	m := &OTELMetrics{logger: logger}

	var err error

	m.flowsStarted, err = meter.Int64Counter("fdc_relay.flow.started",
		metric.WithDescription("Number of attestation flows started"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.flowDuration, err = meter.Float64Histogram("fdc_relay.flow.duration",
		metric.WithDescription("Time from encoding to decoded payload"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.flowErrors, err = meter.Int64Counter("fdc_relay.flow.errors",
		metric.WithDescription("Number of attestation flows that failed"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.stageDuration, err = meter.Float64Histogram("fdc_relay.stage.duration",
		metric.WithDescription("Time spent in one lifecycle stage"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.searchAttempts, err = meter.Int64Counter("fdc_relay.search.attempts",
		metric.WithDescription("Number of rounds queried for a proof"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.searchAttemptDuration, err = meter.Float64Histogram("fdc_relay.search.attempt_duration",
		metric.WithDescription("Time taken by one DA layer lookup"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.searchLength, err = meter.Int64Histogram("fdc_relay.search.length",
		metric.WithDescription("Rounds queried per search"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.submissions, err = meter.Int64Counter("fdc_relay.submissions",
		metric.WithDescription("Number of requests accepted by the hub"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.submissionFee, err = meter.Float64Histogram("fdc_relay.submission.fee",
		metric.WithDescription("Fee paid per request"),
		metric.WithUnit("wei"))
	if err != nil {
		return nil, err
	}

	m.pendingRequests, err = meter.Int64Gauge("fdc_relay.pending_requests",
		metric.WithDescription("Submitted requests waiting for a proof"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	m.breakerChanges, err = meter.Int64Counter("fdc_relay.circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *OTELMetrics) RecordFlowStart(ctx context.Context, attestationType string) {
	m.flowsStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("attestation_type", attestationType)))
}

func (m *OTELMetrics) RecordFlowComplete(ctx context.Context, attestationType string, duration time.Duration) {
	m.flowDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("attestation_type", attestationType)))
}

func (m *OTELMetrics) RecordFlowError(ctx context.Context, attestationType, stage, errType string) {
	m.flowErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("attestation_type", attestationType),
			attribute.String("stage", stage),
			attribute.String("error_type", errType),
		))
}

func (m *OTELMetrics) RecordStageDuration(ctx context.Context, attestationType, stage string, duration time.Duration) {
	m.stageDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("attestation_type", attestationType),
			attribute.String("stage", stage),
		))
}

func (m *OTELMetrics) RecordSearchAttempt(ctx context.Context, attestationType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("attestation_type", attestationType),
		attribute.String("status", status),
	)
	m.searchAttempts.Add(ctx, 1, attrs)
	m.searchAttemptDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *OTELMetrics) RecordSearchComplete(ctx context.Context, attestationType string, attempts int, found bool) {
	m.searchLength.Record(ctx, int64(attempts),
		metric.WithAttributes(
			attribute.String("attestation_type", attestationType),
			attribute.Bool("found", found),
		))
}

func (m *OTELMetrics) RecordSubmission(ctx context.Context, attestationType string, feeWei float64) {
	attrs := metric.WithAttributes(attribute.String("attestation_type", attestationType))
	m.submissions.Add(ctx, 1, attrs)
	m.submissionFee.Record(ctx, feeWei, attrs)
}

func (m *OTELMetrics) RecordPendingRequests(ctx context.Context, count int) {
	m.pendingRequests.Record(ctx, int64(count))
}

func (m *OTELMetrics) RecordCircuitBreakerStateChange(ctx context.Context, name string, from, to gobreaker.State) {
	m.breakerChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		))
}
