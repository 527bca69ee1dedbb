package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/escrow/ledger"
)

var (
	employerAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	workerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fe")

	window = 7 * 24 * time.Hour
	start  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func ether(s string) *big.Int {
	v, err := core.NewProjector(18).ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testSettings() Settings {
	return Settings{
		ConfirmTimeout:    200 * time.Millisecond,
		ConfirmAttempts:   2,
		PollInterval:      time.Millisecond,
		ReadRetries:       2,
		ReadRetryInterval: time.Millisecond,
		SubmitTimeout:     time.Second,
		ResolutionWindow:  window,
		FeeBasisPoints:    100,
		Decimals:          18,
	}
}

type harness struct {
	clock    *clock.Mock
	ledger   *ledger.MemoryLedger
	employer *EscrowOrchestrator
	worker   *EscrowOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(start)

	mem := ledger.NewMemoryLedger(mock, 100, window, treasuryAddr)
	mem.Fund(employerAddr, ether("1"))

	return &harness{
		clock:    mock,
		ledger:   mem,
		employer: newOrchestrator(mem.Client(employerAddr), mock),
		worker:   newOrchestrator(mem.Client(workerAddr), mock),
	}
}

func newOrchestrator(client core.LedgerClient, mock *clock.Mock, opts ...Option) *EscrowOrchestrator {
	seq := NewSigningSequencer(time.Hour, &mockLogger{}, WithSequencerClock(mock))
	return NewEscrowOrchestrator(client, seq, testSettings(), &mockLogger{}, append([]Option{WithClock(mock)}, opts...)...)
}

func (h *harness) createJob(t *testing.T, amount string, deadline time.Duration) core.JobID {
	t.Helper()
	out, err := h.employer.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether(amount), Deadline: h.clock.Now().Add(deadline)},
	})
	require.NoError(t, err)
	return out.Receipt.JobID
}

func execute(o *EscrowOrchestrator, id core.JobID, action core.Action) (*core.Outcome, error) {
	return o.Execute(context.Background(), core.TransitionRequest{JobID: id, Action: action})
}

func TestScenarioCreateSubmitApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.employer.Execute(ctx, core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.01"), Deadline: start.Add(24 * time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, core.ConfirmationConfirmed, created.Receipt.Status)
	require.Equal(t, core.ActionCreateJob, created.Receipt.Action)

	id := created.Receipt.JobID
	job, err := h.employer.Query(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.StatusCreated, job.Status)
	require.Equal(t, "", job.Deliverable)
	require.Equal(t, "0.01", h.employer.Projector().FormatAmount(job.Amount))
	require.Equal(t, employerAddr, job.Employer)
	require.Equal(t, start.Add(24*time.Hour), job.Deadline)

	submitted, err := execute(h.worker, id, core.SubmitWork{Deliverable: "ipfs://abc"})
	require.NoError(t, err)
	require.Equal(t, core.StatusWorkSubmitted, submitted.Job.Status)
	require.Equal(t, "ipfs://abc", submitted.Job.Deliverable)

	approved, err := execute(h.employer, id, core.ApproveWork{})
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, approved.Job.Status)

	require.Equal(t, ether("0.0099").String(), h.ledger.Balance(workerAddr).String())
	require.Equal(t, ether("0.0001").String(), h.ledger.Balance(treasuryAddr).String())
	require.Equal(t, ether("0.0099").String(), approved.Job.WorkerPayout(h.employer.FeeBasisPoints()).String())
}

func TestScenarioCancelAfterDeadline(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.5", time.Hour)
	require.Equal(t, ether("0.5").String(), h.ledger.Balance(employerAddr).String())

	_, err := execute(h.employer, id, core.CancelJob{})
	require.Equal(t, core.KindInvalidTransition, core.KindOf(err))

	h.clock.Add(time.Hour - time.Second)
	_, err = execute(h.employer, id, core.CancelJob{})
	require.Equal(t, core.KindInvalidTransition, core.KindOf(err))

	h.clock.Add(time.Second)
	out, err := execute(h.employer, id, core.CancelJob{})
	require.NoError(t, err)
	require.Equal(t, core.StatusCancelled, out.Job.Status)
	require.Equal(t, ether("1").String(), h.ledger.Balance(employerAddr).String())
}

func TestCancelRequiresCreatedStatus(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)
	_, err := execute(h.worker, id, core.SubmitWork{Deliverable: "ipfs://abc"})
	require.NoError(t, err)

	h.clock.Add(2 * time.Hour)
	_, err = execute(h.employer, id, core.CancelJob{})
	require.Equal(t, core.KindInvalidTransition, core.KindOf(err))
}

func TestResolveDisputeWindow(t *testing.T) {
	tests := []struct {
		name       string
		deliver    bool
		wantStatus core.Status
	}{
		{name: "no deliverable refunds employer", wantStatus: core.StatusCancelled},
		{name: "submitted work pays worker", deliver: true, wantStatus: core.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.createJob(t, "0.2", 24*time.Hour)
			if tt.deliver {
				_, err := execute(h.worker, id, core.SubmitWork{Deliverable: "ipfs://abc"})
				require.NoError(t, err)
			}

			disputed, err := execute(h.worker, id, core.DisputeJob{})
			require.NoError(t, err)
			require.Equal(t, core.StatusDisputed, disputed.Job.Status)
			require.NotNil(t, disputed.Job.DisputeTime)
			require.Equal(t, start, *disputed.Job.DisputeTime)

			h.clock.Add(window - time.Second)
			_, err = execute(h.employer, id, core.ResolveDispute{})
			require.Equal(t, core.KindInvalidTransition, core.KindOf(err))

			h.clock.Add(time.Second)
			resolved, err := execute(h.employer, id, core.ResolveDispute{})
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, resolved.Job.Status)
			require.True(t, resolved.Job.Status.IsTerminal())
		})
	}
}

func TestTerminalJobsRejectEveryAction(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)
	_, err := execute(h.worker, id, core.SubmitWork{Deliverable: "ipfs://abc"})
	require.NoError(t, err)
	_, err = execute(h.employer, id, core.ApproveWork{})
	require.NoError(t, err)

	h.clock.Add(30 * 24 * time.Hour)
	actions := []core.Action{
		core.SubmitWork{Deliverable: "again"},
		core.ApproveWork{},
		core.CancelJob{},
		core.DisputeJob{},
		core.ResolveDispute{},
	}
	for _, o := range []*EscrowOrchestrator{h.employer, h.worker} {
		for _, action := range actions {
			_, err := execute(o, id, action)
			require.Equal(t, core.KindInvalidTransition, core.KindOf(err), "%s", action.Kind())
		}
	}

	job, err := h.employer.Query(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.StatusCompleted, job.Status)
}

// sequencerSpy counts acquisitions around a real sequencer.
type sequencerSpy struct {
	*SigningSequencer
	mu       sync.Mutex
	acquired int
}

func (s *sequencerSpy) Acquire(ctx context.Context) (core.Ticket, error) {
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return s.SigningSequencer.Acquire(ctx)
}

func TestLocalRejectionsNeverTakeTheSequencer(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)

	spy := &sequencerSpy{SigningSequencer: NewSigningSequencer(time.Hour, &mockLogger{})}
	o := NewEscrowOrchestrator(h.ledger.Client(employerAddr), spy, testSettings(), &mockLogger{}, WithClock(h.clock))

	tests := []struct {
		name     string
		req      core.TransitionRequest
		wantKind core.Kind
	}{
		{"missing action", core.TransitionRequest{JobID: id}, core.KindValidation},
		{"zero amount", core.TransitionRequest{Action: core.CreateJob{Worker: workerAddr, Amount: big.NewInt(0), Deadline: start.Add(time.Hour)}}, core.KindValidation},
		{"past deadline", core.TransitionRequest{Action: core.CreateJob{Worker: workerAddr, Amount: big.NewInt(1), Deadline: start}}, core.KindInvalidTransition},
		{"employer submits work", core.TransitionRequest{JobID: id, Action: core.SubmitWork{Deliverable: "x"}}, core.KindInvalidTransition},
		{"approve unsubmitted", core.TransitionRequest{JobID: id, Action: core.ApproveWork{}}, core.KindInvalidTransition},
		{"missing job", core.TransitionRequest{JobID: 99, Action: core.DisputeJob{}}, core.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Execute(context.Background(), tt.req)
			require.Equal(t, tt.wantKind, core.KindOf(err))
		})
	}
	require.Equal(t, 0, spy.acquired)
}

// interceptingLedger runs hooks around the wrapped client's calls.
type interceptingLedger struct {
	core.LedgerClient
	beforeSubmit func()
	readFailures int
	reads        int
	statusCode   *uint8
	// sendErr is returned alongside the handle after a real submission.
	sendErr error
	mu      sync.Mutex
	submitted    []core.JobID
}

func (l *interceptingLedger) ReadJob(ctx context.Context, id core.JobID) (core.JobSnapshot, error) {
	l.mu.Lock()
	l.reads++
	fail := l.reads <= l.readFailures
	l.mu.Unlock()
	if fail {
		return core.JobSnapshot{}, core.ErrTransient
	}
	raw, err := l.LedgerClient.ReadJob(ctx, id)
	if err == nil && l.statusCode != nil {
		raw.Status = *l.statusCode
	}
	return raw, err
}

func (l *interceptingLedger) Submit(ctx context.Context, sub core.Submission) (core.TxHandle, error) {
	if l.beforeSubmit != nil {
		l.beforeSubmit()
	}
	l.mu.Lock()
	l.submitted = append(l.submitted, sub.JobID)
	l.mu.Unlock()
	handle, err := l.LedgerClient.Submit(ctx, sub)
	if err == nil && l.sendErr != nil {
		return handle, l.sendErr
	}
	return handle, err
}

func TestStaleReadSurfacesAsExternalRejection(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)

	// The employer disputes between the worker's read and submission.
	intercepted := &interceptingLedger{
		LedgerClient: h.ledger.Client(workerAddr),
		beforeSubmit: func() {
			_, err := execute(h.employer, id, core.DisputeJob{})
			require.NoError(t, err)
		},
	}
	worker := newOrchestrator(intercepted, h.clock)

	_, err := execute(worker, id, core.SubmitWork{Deliverable: "ipfs://abc"})
	require.Equal(t, core.KindRejectedExternally, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrRejected)

	job, err := worker.Query(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.StatusDisputed, job.Status)
}

func TestInsufficientFundsIsExternalRejection(t *testing.T) {
	h := newHarness(t)
	_, err := h.employer.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("2"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindRejectedExternally, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrInsufficientFunds)
}

func TestUnconfirmedSubmissionKeepsTxRef(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetAutoMine(false)

	_, err := h.employer.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindSubmittedButUnconfirmed, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrConfirmationTimeout)

	hash, ok := core.TxRefOf(err)
	require.True(t, ok)

	status, err := h.employer.TransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, core.ConfirmationPending, status.Status)

	require.Equal(t, 1, h.ledger.Mine())
	status, err = h.employer.TransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, core.ConfirmationConfirmed, status.Status)
	require.NotNil(t, status.CreatedJobID)

	count, err := h.employer.JobCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestCallerTimeoutDoesNotAbortSubmission(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetAutoMine(false)

	settings := testSettings()
	settings.ConfirmTimeout = 10 * time.Second
	o := NewEscrowOrchestrator(h.ledger.Client(employerAddr), NewSigningSequencer(time.Hour, &mockLogger{}), settings, &mockLogger{}, WithClock(h.clock))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := o.Execute(ctx, core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindSubmittedButUnconfirmed, core.KindOf(err))
	_, ok := core.TxRefOf(err)
	require.True(t, ok)

	require.Equal(t, 1, h.ledger.Mine())
	require.Equal(t, ether("0.9").String(), h.ledger.Balance(employerAddr).String())
}

func TestRevertedConfirmationIsExternalRejection(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)
	h.ledger.SetAutoMine(false)

	// Both disputes pass local checks and submission against the same
	// pre-dispute state; the later one reverts when mined.
	workerErr := make(chan error, 1)
	go func() {
		_, err := execute(h.worker, id, core.DisputeJob{})
		workerErr <- err
	}()
	require.Eventually(t, func() bool { return h.ledger.Pending() == 1 }, time.Second, time.Millisecond)

	employerErr := make(chan error, 1)
	go func() {
		_, err := execute(h.employer, id, core.DisputeJob{})
		employerErr <- err
	}()
	require.Eventually(t, func() bool { return h.ledger.Pending() == 2 }, time.Second, time.Millisecond)

	require.Equal(t, 2, h.ledger.Mine())
	require.NoError(t, <-workerErr)

	err := <-employerErr
	require.Equal(t, core.KindRejectedExternally, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrReverted)
	_, ok := core.TxRefOf(err)
	require.True(t, ok)
}

func TestReadRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)

	flaky := &interceptingLedger{LedgerClient: h.ledger.Client(employerAddr), readFailures: 2}
	job, err := newOrchestrator(flaky, h.clock).Query(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.StatusCreated, job.Status)
	require.Equal(t, 3, flaky.reads)

	broken := &interceptingLedger{LedgerClient: h.ledger.Client(employerAddr), readFailures: 10}
	_, err = newOrchestrator(broken, h.clock).Query(context.Background(), id)
	require.Equal(t, core.KindTransientNetwork, core.KindOf(err))
	require.Equal(t, 3, broken.reads)
}

func TestUnknownStatusIsReadableButNotMutable(t *testing.T) {
	h := newHarness(t)
	id := h.createJob(t, "0.1", time.Hour)

	odd := &interceptingLedger{LedgerClient: h.ledger.Client(employerAddr), statusCode: ptr(uint8(9))}
	o := newOrchestrator(odd, h.clock)

	job, err := o.Query(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, core.StatusUnknown, job.Status)
	require.Equal(t, uint8(9), job.StatusCode)

	_, err = execute(o, id, core.DisputeJob{})
	require.Equal(t, core.KindInvalidTransition, core.KindOf(err))
}

func TestQueryMissingJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.employer.Query(context.Background(), 5)
	require.Equal(t, core.KindNotFound, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestTransactionStatusUnknownHash(t *testing.T) {
	h := newHarness(t)
	_, err := h.employer.TransactionStatus(context.Background(), common.HexToHash("0x1234"))
	require.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestConcurrentExecutesSubmitInAcquireOrder(t *testing.T) {
	h := newHarness(t)
	const n = 6
	ids := make([]core.JobID, n)
	for i := range ids {
		ids[i] = h.createJob(t, "0.01", time.Hour)
	}

	recorder := &interceptingLedger{LedgerClient: h.ledger.Client(employerAddr)}
	seq := NewSigningSequencer(time.Hour, &mockLogger{})
	o := NewEscrowOrchestrator(recorder, seq, testSettings(), &mockLogger{}, WithClock(h.clock))

	gate, err := seq.Acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(id core.JobID) {
			defer wg.Done()
			if _, err := execute(o, id, core.DisputeJob{}); err != nil {
				t.Errorf("dispute %s: %v", id, err)
			}
		}(id)
		waitForWaiters(t, seq, i+1)
	}
	require.NoError(t, seq.Release(gate))
	wg.Wait()

	require.Equal(t, ids, recorder.submitted)
}

// revokedSequencer hands out tickets the watchdog has already revoked.
type revokedSequencer struct{}

type revokedTicket struct{ ch chan struct{} }

func (t revokedTicket) ID() string               { return "revoked" }
func (t revokedTicket) Revoked() <-chan struct{} { return t.ch }

func (revokedSequencer) Acquire(ctx context.Context) (core.Ticket, error) {
	ch := make(chan struct{})
	close(ch)
	return revokedTicket{ch: ch}, nil
}

func (revokedSequencer) Release(core.Ticket) error { return core.ErrTicketRevoked }

func TestRevokedTicketEscalatesToSequencerStuck(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetAutoMine(false)
	logger := &mockLogger{}
	o := NewEscrowOrchestrator(h.ledger.Client(employerAddr), revokedSequencer{}, testSettings(), logger, WithClock(h.clock))

	_, err := o.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindSequencerStuck, core.KindOf(err))
	_, ok := core.TxRefOf(err)
	require.True(t, ok)
	require.True(t, logger.contains("Sequencer release failed"))
}

func TestAmbiguousBroadcastIsUnconfirmedWithTxRef(t *testing.T) {
	h := newHarness(t)
	intercepted := &interceptingLedger{
		LedgerClient: h.ledger.Client(employerAddr),
		sendErr:      fmt.Errorf("evm: send createJob: %w: %w", core.ErrBroadcastUnknown, core.ErrTransient),
	}
	o := newOrchestrator(intercepted, h.clock)

	_, err := o.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindSubmittedButUnconfirmed, core.KindOf(err))
	require.ErrorIs(t, err, core.ErrBroadcastUnknown)

	hash, ok := core.TxRefOf(err)
	require.True(t, ok)
	st, err := o.TransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, core.ConfirmationConfirmed, st.Status)
	require.Len(t, intercepted.submitted, 1)
}

type failingAcquireSequencer struct{ err error }

func (f failingAcquireSequencer) Acquire(context.Context) (core.Ticket, error) { return nil, f.err }
func (failingAcquireSequencer) Release(core.Ticket) error { return nil }

func TestRevokedDuringAcquireIsSequencerStuck(t *testing.T) {
	h := newHarness(t)
	seq := failingAcquireSequencer{err: fmt.Errorf("sequencer: obtain distributed lock: %w", core.ErrTicketRevoked)}
	o := NewEscrowOrchestrator(h.ledger.Client(employerAddr), seq, testSettings(), &mockLogger{}, WithClock(h.clock))

	_, err := o.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.Equal(t, core.KindSequencerStuck, core.KindOf(err))
}

func TestExecuteIsInstrumented(t *testing.T) {
	h := newHarness(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	o := newOrchestrator(h.ledger.Client(employerAddr), h.clock, WithMeterProvider(mp), WithTracerProvider(tp))
	_, err := o.Execute(context.Background(), core.TransitionRequest{
		Action: core.CreateJob{Worker: workerAddr, Amount: ether("0.1"), Deadline: start.Add(time.Hour)},
	})
	require.NoError(t, err)
	_, err = execute(o, 0, core.ApproveWork{})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "escrow.execute", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("escrow.action", "createJob"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var transitions *metricdata.Metrics
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == "escrow.transitions" {
				transitions = &sm.Metrics[i]
			}
		}
	}
	require.NotNil(t, transitions)
	sum, ok := transitions.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	results := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("result")
		results[v.AsString()] += dp.Value
	}
	require.Equal(t, int64(1), results["ok"])
	require.Equal(t, int64(1), results[string(core.KindInvalidTransition)])
}

func ptr[T any](v T) *T {
	return &v
}
