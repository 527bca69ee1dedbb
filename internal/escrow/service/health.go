package service

import (
	"context"
	"sync"
	"time"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

const (
	ComponentLedger    = "escrow.Ledger"
	ComponentSequencer = "escrow.Sequencer"
)

// HealthSink receives component health after every probe.
type HealthSink interface {
	SetHealth(component string, healthy bool)
}

type stuckReporter interface {
	Stuck() bool
}

// HealthReport is the result of the latest probe.
type HealthReport struct {
	LedgerReachable bool
	LedgerError     string
	JobCount        uint64
	SequencerStuck  bool
	CheckedAt       time.Time
}

func (r HealthReport) Healthy() bool {
	return r.LedgerReachable && !r.SequencerStuck
}

// HealthChecker probes the ledger and the signing sequencer on an interval
// and publishes the result to its sinks.
type HealthChecker struct {
	checkInterval time.Duration
	probeTimeout  time.Duration
	service       core.EscrowService
	sequencer     stuckReporter
	sinks         []HealthSink
	logger        logging.Logger

	mu   sync.RWMutex
	last HealthReport
}

func NewHealthChecker(
	checkInterval time.Duration,
	service core.EscrowService,
	sequencer stuckReporter,
	logger logging.Logger,
	sinks ...HealthSink,
) *HealthChecker {
	return &HealthChecker{
		checkInterval: checkInterval,
		probeTimeout:  max(checkInterval/2, time.Second),
		service:       service,
		sequencer:     sequencer,
		sinks:         sinks,
		logger:        logger,
	}
}

// Start probes once immediately and then every interval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	report := HealthReport{CheckedAt: time.Now().UTC()}
	count, err := h.service.JobCount(probeCtx)
	if err != nil {
		report.LedgerError = err.Error()
		h.logger.Warn("Ledger health probe failed", "error", err)
	} else {
		report.LedgerReachable = true
		report.JobCount = count
	}
	if h.sequencer != nil {
		report.SequencerStuck = h.sequencer.Stuck()
	}

	h.mu.Lock()
	previous := h.last
	h.last = report
	h.mu.Unlock()

	if previous.SequencerStuck != report.SequencerStuck && report.SequencerStuck {
		h.logger.Error("Signing sequencer is stuck, mutations are suspect until a clean release")
	}
	for _, sink := range h.sinks {
		sink.SetHealth(ComponentLedger, report.LedgerReachable)
		sink.SetHealth(ComponentSequencer, !report.SequencerStuck)
	}
	return report
}

// Report returns the latest probe result.
func (h *HealthChecker) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}
