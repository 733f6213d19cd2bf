package metrics

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// NoOpMetrics is a no-op implementation of MetricsRecorder.
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (n *NoOpMetrics) RecordFlowStart(ctx context.Context, attestationType string) {}

func (n *NoOpMetrics) RecordFlowComplete(ctx context.Context, attestationType string, duration time.Duration) {
}

func (n *NoOpMetrics) RecordFlowError(ctx context.Context, attestationType, stage, errType string) {}

func (n *NoOpMetrics) RecordStageDuration(ctx context.Context, attestationType, stage string, duration time.Duration) {
}

func (n *NoOpMetrics) RecordSearchAttempt(ctx context.Context, attestationType, status string, duration time.Duration) {
}

func (n *NoOpMetrics) RecordSearchComplete(ctx context.Context, attestationType string, attempts int, found bool) {
}

func (n *NoOpMetrics) RecordSubmission(ctx context.Context, attestationType string, feeWei float64) {}

func (n *NoOpMetrics) RecordPendingRequests(ctx context.Context, count int) {}

func (n *NoOpMetrics) RecordCircuitBreakerStateChange(ctx context.Context, name string, from, to gobreaker.State) {
}
