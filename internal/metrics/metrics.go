// Package metrics provides observability for the relay.
// It uses a plugin pattern to ensure zero overhead when OpenTelemetry is not available.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
)

const meterName = "github.com/trufnetwork/fdc-relay"

// MetricsRecorder defines the interface for recording pipeline metrics.
// This allows for pluggable implementations - either real OTEL metrics or no-op.
type MetricsRecorder interface {
	// Lifecycle metrics
	RecordFlowStart(ctx context.Context, attestationType string)
	RecordFlowComplete(ctx context.Context, attestationType string, duration time.Duration)
	RecordFlowError(ctx context.Context, attestationType, stage, errType string)
	RecordStageDuration(ctx context.Context, attestationType, stage string, duration time.Duration)

	// Search metrics
	RecordSearchAttempt(ctx context.Context, attestationType, status string, duration time.Duration)
	RecordSearchComplete(ctx context.Context, attestationType string, attempts int, found bool)

	// Submission metrics
	RecordSubmission(ctx context.Context, attestationType string, feeWei float64)

	// Resource metrics
	RecordPendingRequests(ctx context.Context, count int)
	RecordCircuitBreakerStateChange(ctx context.Context, name string, from, to gobreaker.State)
}

// NewMetricsRecorder creates a metrics recorder instance.
// It automatically detects if OpenTelemetry is available and returns
// either a real OTEL implementation or a no-op implementation.
func NewMetricsRecorder(logger *zap.Logger) MetricsRecorder {
	meter := otel.GetMeterProvider().Meter(meterName)

	// Try to create a test metric to verify OTEL is functional
	_, err := meter.Int64Counter("fdc_relay.test")
	if err != nil {
		logger.Debug("OpenTelemetry not available, metrics disabled")
		return NewNoOpMetrics()
	}

	otelMetrics, err := NewOTELMetrics(meter, logger)
	if err != nil {
		logger.Warn("failed to initialize OTEL metrics, falling back to no-op", zap.Error(err))
		return NewNoOpMetrics()
	}

	logger.Info("OpenTelemetry metrics initialized successfully")
	return otelMetrics
}

// ClassifyError categorizes errors for metric labels to keep cardinality low
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch attestation.Kind(err) {
	case attestation.ErrEncoding:
		return "encoding"
	case attestation.ErrSubmission:
		return "submission"
	case attestation.ErrProofUnavailable:
		return "proof_unavailable"
	case attestation.ErrRoundPassed:
		return "round_passed"
	case attestation.ErrVerificationFailed:
		return "verification_failed"
	case attestation.ErrDecode:
		return "decode"
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "context deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "context canceled"):
		return "cancelled"
	case strings.Contains(errStr, "circuit breaker is open") || strings.Contains(errStr, "too many requests"):
		return "circuit_open"
	case strings.Contains(errStr, "connection"):
		return "connection_error"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "forbidden"):
		return "permission_denied"
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation"):
		return "validation_error"
	case strings.Contains(errStr, "business rule"):
		return "business_rule"
	default:
		return "unknown"
	}
}
