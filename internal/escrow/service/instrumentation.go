package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName is the scope name for escrow traces and metrics.
const instrumentationName = "github.com/nemanja-m/escrowd/internal/escrow/service"

// Instruments:
//   - escrow.transitions (Int64Counter): executed transitions by action and result kind
//   - escrow.transition.duration (Float64Histogram): seconds per Execute call
//   - escrow.sequencer.wait (Float64Histogram): seconds spent waiting for a ticket
//   - escrow.confirmation.attempts (Int64Counter): confirmation checks issued
//   - escrow.ledger.read.retries (Int64Counter): retried ledger reads
type orchestratorMetrics struct {
	transitions   metric.Int64Counter
	duration      metric.Float64Histogram
	sequencerWait metric.Float64Histogram
	confirmChecks metric.Int64Counter
	readRetries   metric.Int64Counter
}

func newOrchestratorMetrics(meter metric.Meter) *orchestratorMetrics {
	// The API hands back noop instruments alongside any error.
	transitions, _ := meter.Int64Counter(
		"escrow.transitions",
		metric.WithDescription("Executed escrow transitions"),
		metric.WithUnit("{transition}"),
	)
	duration, _ := meter.Float64Histogram(
		"escrow.transition.duration",
		metric.WithDescription("Duration of escrow transitions in seconds"),
		metric.WithUnit("s"),
	)
	sequencerWait, _ := meter.Float64Histogram(
		"escrow.sequencer.wait",
		metric.WithDescription("Time spent waiting for the signing sequencer in seconds"),
		metric.WithUnit("s"),
	)
	confirmChecks, _ := meter.Int64Counter(
		"escrow.confirmation.attempts",
		metric.WithDescription("Confirmation checks issued against the ledger"),
		metric.WithUnit("{attempt}"),
	)
	readRetries, _ := meter.Int64Counter(
		"escrow.ledger.read.retries",
		metric.WithDescription("Ledger reads retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	return &orchestratorMetrics{
		transitions:   transitions,
		duration:      duration,
		sequencerWait: sequencerWait,
		confirmChecks: confirmChecks,
		readRetries:   readRetries,
	}
}

func (m *orchestratorMetrics) recordTransition(ctx context.Context, action, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
