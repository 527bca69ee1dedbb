package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

// Settings bounds the orchestrator's waits and retries.
type Settings struct {
	// ConfirmTimeout is the total confirmation budget, split evenly across
	// ConfirmAttempts checks.
	ConfirmTimeout  time.Duration
	ConfirmAttempts int
	// PollInterval is the initial backoff between confirmation checks.
	PollInterval time.Duration

	ReadRetries       int
	ReadRetryInterval time.Duration

	// SubmitTimeout bounds a single submission. It is detached from the
	// caller's context.
	SubmitTimeout time.Duration

	ResolutionWindow time.Duration
	FeeBasisPoints   int64
	Decimals         int
}

type EscrowOrchestrator struct {
	ledger    core.LedgerClient
	sequencer core.Sequencer
	projector core.Projector
	policy    core.Policy
	settings  Settings

	clock   clock.Clock
	tracer  trace.Tracer
	metrics *orchestratorMetrics
	logger  logging.Logger
}

type Option func(*EscrowOrchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *EscrowOrchestrator) { o.clock = c }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *EscrowOrchestrator) { o.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *EscrowOrchestrator) { o.metrics = newOrchestratorMetrics(mp.Meter(instrumentationName)) }
}

func NewEscrowOrchestrator(
	ledger core.LedgerClient,
	sequencer core.Sequencer,
	settings Settings,
	logger logging.Logger,
	opts ...Option,
) *EscrowOrchestrator {
	if settings.ConfirmAttempts < 1 {
		settings.ConfirmAttempts = 1
	}
	o := &EscrowOrchestrator{
		ledger:    ledger,
		sequencer: sequencer,
		projector: core.NewProjector(settings.Decimals),
		policy: core.Policy{
			Signer:           ledger.Signer(),
			ResolutionWindow: settings.ResolutionWindow,
		},
		settings: settings,
		clock:    clock.New(),
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newOrchestratorMetrics(otel.Meter(instrumentationName)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *EscrowOrchestrator) Signer() common.Address {
	return o.ledger.Signer()
}

func (o *EscrowOrchestrator) Projector() core.Projector {
	return o.projector
}

func (o *EscrowOrchestrator) FeeBasisPoints() int64 {
	return o.settings.FeeBasisPoints
}

// Execute drives one transition: read, check, acquire, submit, confirm,
// re-read, release.
func (o *EscrowOrchestrator) Execute(ctx context.Context, req core.TransitionRequest) (out *core.Outcome, err error) {
	action := "unknown"
	if req.Action != nil {
		action = string(req.Action.Kind())
	}
	start := o.clock.Now()

	ctx, span := o.tracer.Start(ctx, "escrow.execute",
		trace.WithAttributes(
			attribute.String("escrow.action", action),
			attribute.Int64("escrow.job_id", int64(req.JobID)),
			attribute.String("escrow.signer", o.ledger.Signer().Hex()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = string(core.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if ref, ok := core.TxRefOf(err); ok {
				span.SetAttributes(attribute.String("escrow.tx_hash", ref.Hex()))
			}
		} else {
			span.SetAttributes(attribute.String("escrow.tx_hash", out.Receipt.TxHash.Hex()))
			span.SetStatus(codes.Ok, "")
		}
		o.metrics.recordTransition(ctx, action, result, o.clock.Since(start))
		span.End()
	}()

	return o.execute(ctx, req)
}

func (o *EscrowOrchestrator) execute(ctx context.Context, req core.TransitionRequest) (*core.Outcome, error) {
	const op = "execute"

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var current *core.Job
	if _, creating := req.Action.(core.CreateJob); !creating {
		job, err := o.readJob(ctx, op, req.JobID)
		if err != nil {
			return nil, err
		}
		current = job
	}
	if err := o.policy.Check(current, req.Action, o.clock.Now()); err != nil {
		return nil, err
	}

	waitStart := o.clock.Now()
	ticket, err := o.sequencer.Acquire(ctx)
	o.metrics.sequencerWait.Record(ctx, o.clock.Since(waitStart).Seconds(),
		metric.WithAttributes(attribute.String("action", string(req.Action.Kind()))))
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewError(core.KindTimeout, op, fmt.Errorf("waiting for signing slot: %w", err)).WithJob(req.JobID)
		}
		if errors.Is(err, core.ErrTicketRevoked) {
			return nil, core.NewError(core.KindSequencerStuck, op, err).WithJob(req.JobID)
		}
		return nil, core.NewError(core.KindTransientNetwork, op, err).WithJob(req.JobID)
	}
	defer o.release(ticket)

	handle, err := o.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	o.logger.Info(
		"Transaction submitted",
		"action", string(handle.Action),
		"job_id", req.JobID.String(),
		"tx_hash", handle.Hash.Hex(),
		"ticket_id", ticket.ID(),
	)

	confirmation, err := o.confirm(ctx, req, handle)
	if err != nil {
		return nil, o.escalateIfRevoked(ticket, err, req.JobID, handle.Hash)
	}

	receipt := core.SubmissionReceipt{
		TxHash: confirmation.Hash,
		Action: req.Action.Kind(),
		JobID:  req.JobID,
		Status: core.ConfirmationConfirmed,
		Block:  confirmation.Block,
	}
	if confirmation.CreatedJobID != nil {
		receipt.JobID = *confirmation.CreatedJobID
	} else if req.Action.Kind() == core.ActionCreateJob {
		o.logger.Warn("Confirmed createJob did not emit a job id", "tx_hash", confirmation.Hash.Hex())
		return &core.Outcome{Receipt: receipt}, nil
	}

	post, err := o.readJob(context.WithoutCancel(ctx), op, receipt.JobID)
	if err != nil {
		o.logger.Warn(
			"Failed to re-read job after confirmation",
			"job_id", receipt.JobID.String(),
			"tx_hash", receipt.TxHash.Hex(),
			"error", err,
		)
		return &core.Outcome{Receipt: receipt}, nil
	}
	if !slices.Contains(core.ExpectedResults(req.Action.Kind()), post.Status) {
		o.logger.Warn(
			"Ledger state differs from expected transition result",
			"action", string(req.Action.Kind()),
			"job_id", post.ID.String(),
			"status", string(post.Status),
		)
	}

	o.logger.Info(
		"Transition confirmed",
		"action", string(req.Action.Kind()),
		"job_id", post.ID.String(),
		"status", string(post.Status),
		"tx_hash", receipt.TxHash.Hex(),
		"block", receipt.Block,
	)
	return &core.Outcome{Job: post, Receipt: receipt}, nil
}

// Query returns the current projected state of a job. Unknown ledger status
// codes are returned as StatusUnknown rather than failing.
func (o *EscrowOrchestrator) Query(ctx context.Context, id core.JobID) (*core.Job, error) {
	ctx, span := o.tracer.Start(ctx, "escrow.query",
		trace.WithAttributes(attribute.Int64("escrow.job_id", int64(id))))
	defer span.End()

	job, err := o.readJob(ctx, "query", id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return job, nil
}

func (o *EscrowOrchestrator) JobCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := o.retryRead(ctx, func() error {
		n, err := o.ledger.JobCount(ctx)
		count = n
		return err
	})
	if err != nil {
		return 0, classifyRead("job_count", err)
	}
	return count, nil
}

// TransactionStatus checks a previously submitted transaction once, without
// waiting.
func (o *EscrowOrchestrator) TransactionStatus(ctx context.Context, hash common.Hash) (*core.TxStatus, error) {
	const op = "transaction_status"

	status := &core.TxStatus{TxHash: hash}
	var confirmation core.Confirmation
	err := o.retryRead(ctx, func() error {
		c, err := o.ledger.AwaitConfirmation(ctx, core.TxHandle{Hash: hash}, 0)
		confirmation = c
		return err
	})
	switch {
	case err == nil:
		status.Status = core.ConfirmationConfirmed
		status.Block = confirmation.Block
		status.CreatedJobID = confirmation.CreatedJobID
	case errors.Is(err, core.ErrConfirmationTimeout):
		status.Status = core.ConfirmationPending
	case errors.Is(err, core.ErrReverted):
		status.Status = core.ConfirmationReverted
		status.Block = confirmation.Block
	case errors.Is(err, core.ErrTxNotFound):
		return nil, core.NewError(core.KindNotFound, op, err).WithTx(hash)
	default:
		return nil, classifyRead(op, err)
	}
	return status, nil
}

func (o *EscrowOrchestrator) readJob(ctx context.Context, op string, id core.JobID) (*core.Job, error) {
	var raw core.JobSnapshot
	err := o.retryRead(ctx, func() error {
		snapshot, err := o.ledger.ReadJob(ctx, id)
		raw = snapshot
		return err
	})
	if err != nil {
		return nil, classifyRead(op, err).WithJob(id)
	}

	job, err := o.projector.Project(id, raw)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return nil, core.NewError(core.KindNotFound, op, err).WithJob(id)
		}
		return nil, core.NewError(core.KindInternal, op, err).WithJob(id)
	}
	return job, nil
}

// retryRead retries transient read failures with a constant backoff.
func (o *EscrowOrchestrator) retryRead(ctx context.Context, read func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.settings.ReadRetryInterval), uint64(max(o.settings.ReadRetries, 0))),
		ctx,
	)
	return backoff.RetryNotify(
		func() error {
			err := read()
			if err == nil || errors.Is(err, core.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		},
		b,
		func(err error, next time.Duration) {
			o.metrics.readRetries.Add(ctx, 1)
			o.logger.Debug("Retrying ledger read", "error", err, "backoff", next.String())
		},
	)
}

func (o *EscrowOrchestrator) submit(ctx context.Context, req core.TransitionRequest) (core.TxHandle, error) {
	const op = "submit"

	sub := core.Submission{JobID: req.JobID, Action: req.Action}
	if create, ok := req.Action.(core.CreateJob); ok {
		sub.Value = new(big.Int).Set(create.Amount)
	}

	// Once handed to the ledger a transaction is irrevocable, so the caller's
	// cancellation must not abort the submission halfway.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.settings.SubmitTimeout)
	defer cancel()

	handle, err := o.ledger.Submit(submitCtx, sub)
	if err == nil {
		return handle, nil
	}

	if errors.Is(err, core.ErrBroadcastUnknown) && handle.Hash != (common.Hash{}) {
		o.logger.Warn(
			"Broadcast outcome unknown",
			"action", string(req.Action.Kind()),
			"job_id", req.JobID.String(),
			"tx_hash", handle.Hash.Hex(),
			"error", err,
		)
		return core.TxHandle{}, core.NewError(core.KindSubmittedButUnconfirmed, op, err).WithJob(req.JobID).WithTx(handle.Hash)
	}

	o.logger.Warn("Submission failed", "action", string(req.Action.Kind()), "job_id", req.JobID.String(), "error", err)
	switch {
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrInsufficientFunds):
		return core.TxHandle{}, core.NewError(core.KindRejectedExternally, op, err).WithJob(req.JobID)
	case errors.Is(err, core.ErrTransient):
		return core.TxHandle{}, core.NewError(core.KindTransientNetwork, op, err).WithJob(req.JobID)
	case errors.Is(err, context.DeadlineExceeded):
		return core.TxHandle{}, core.NewError(core.KindTimeout, op, err).WithJob(req.JobID)
	default:
		return core.TxHandle{}, core.NewError(core.KindInternal, op, err).WithJob(req.JobID)
	}
}

// confirm checks the transaction up to ConfirmAttempts times with
// exponential backoff between checks. The caller's context bounds the wait
// but never the transaction itself.
func (o *EscrowOrchestrator) confirm(ctx context.Context, req core.TransitionRequest, handle core.TxHandle) (core.Confirmation, error) {
	const op = "confirm"

	perAttempt := o.settings.ConfirmTimeout / time.Duration(o.settings.ConfirmAttempts)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.settings.PollInterval
	expo.MaxInterval = max(perAttempt, o.settings.PollInterval)
	expo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(o.settings.ConfirmAttempts-1)), ctx)

	var confirmation core.Confirmation
	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			o.metrics.confirmChecks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("action", string(handle.Action))))
			c, err := o.ledger.AwaitConfirmation(ctx, handle, perAttempt)
			if err == nil {
				confirmation = c
				return nil
			}
			if errors.Is(err, core.ErrConfirmationTimeout) || errors.Is(err, core.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		},
		b,
		func(err error, next time.Duration) {
			o.logger.Debug(
				"Transaction not confirmed yet",
				"tx_hash", handle.Hash.Hex(),
				"attempt", attempt,
				"backoff", next.String(),
				"error", err,
			)
		},
	)
	if err == nil {
		return confirmation, nil
	}

	switch {
	case errors.Is(err, core.ErrReverted):
		return core.Confirmation{}, core.NewError(core.KindRejectedExternally, op, err).WithJob(req.JobID).WithTx(handle.Hash)
	case errors.Is(err, core.ErrConfirmationTimeout),
		errors.Is(err, core.ErrTransient),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		o.logger.Warn(
			"Transaction submitted but not confirmed",
			"action", string(handle.Action),
			"job_id", req.JobID.String(),
			"tx_hash", handle.Hash.Hex(),
			"attempts", attempt,
			"error", err,
		)
		if !errors.Is(err, core.ErrConfirmationTimeout) {
			err = fmt.Errorf("%w: %w", core.ErrConfirmationTimeout, err)
		}
		return core.Confirmation{}, core.NewError(core.KindSubmittedButUnconfirmed, op, err).WithJob(req.JobID).WithTx(handle.Hash)
	default:
		return core.Confirmation{}, core.NewError(core.KindInternal, op, err).WithJob(req.JobID).WithTx(handle.Hash)
	}
}

func (o *EscrowOrchestrator) release(ticket core.Ticket) {
	if err := o.sequencer.Release(ticket); err != nil {
		o.logger.Warn("Sequencer release failed", "ticket_id", ticket.ID(), "error", err)
	}
}

// escalateIfRevoked reports a failure as SequencerStuck when the watchdog
// took the ticket away while the transition was in flight.
func (o *EscrowOrchestrator) escalateIfRevoked(ticket core.Ticket, err error, id core.JobID, hash common.Hash) error {
	select {
	case <-ticket.Revoked():
	default:
		return err
	}
	return core.NewError(core.KindSequencerStuck, "execute", err).WithJob(id).WithTx(hash)
}

func classifyRead(op string, err error) *core.Error {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		return core.NewError(core.KindNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return core.NewError(core.KindTimeout, op, err)
	case errors.Is(err, core.ErrTransient):
		return core.NewError(core.KindTransientNetwork, op, err)
	default:
		return core.NewError(core.KindInternal, op, err)
	}
}
