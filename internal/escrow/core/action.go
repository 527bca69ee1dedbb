package core

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ActionKind string

const (
	ActionCreateJob      ActionKind = "createJob"
	ActionSubmitWork     ActionKind = "submitWork"
	ActionApproveWork    ActionKind = "approveWork"
	ActionCancelJob      ActionKind = "cancelJob"
	ActionDisputeJob     ActionKind = "disputeJob"
	ActionResolveDispute ActionKind = "resolveDispute"
)

// Action is the closed set of mutating ledger operations. Each variant
// carries its own payload.
type Action interface {
	Kind() ActionKind
	isAction()
}

type CreateJob struct {
	Worker   common.Address
	Amount   *big.Int
	Deadline time.Time
}

type SubmitWork struct {
	Deliverable string
}

type ApproveWork struct{}

type CancelJob struct{}

type DisputeJob struct{}

type ResolveDispute struct{}

func (CreateJob) Kind() ActionKind      { return ActionCreateJob }
func (SubmitWork) Kind() ActionKind     { return ActionSubmitWork }
func (ApproveWork) Kind() ActionKind    { return ActionApproveWork }
func (CancelJob) Kind() ActionKind      { return ActionCancelJob }
func (DisputeJob) Kind() ActionKind     { return ActionDisputeJob }
func (ResolveDispute) Kind() ActionKind { return ActionResolveDispute }

func (CreateJob) isAction()      {}
func (SubmitWork) isAction()     {}
func (ApproveWork) isAction()    {}
func (CancelJob) isAction()      {}
func (DisputeJob) isAction()     {}
func (ResolveDispute) isAction() {}

// TransitionRequest asks for one action. JobID is ignored for CreateJob.
type TransitionRequest struct {
	JobID  JobID
	Action Action
}

// Validate checks the request shape. It never looks at ledger state.
func (r TransitionRequest) Validate() error {
	const op = "validate"

	switch a := r.Action.(type) {
	case nil:
		return NewError(KindValidation, op, errors.New("action is required"))
	case CreateJob:
		if a.Worker == (common.Address{}) {
			return NewError(KindValidation, op, errors.New("worker address is required"))
		}
		if a.Amount == nil || a.Amount.Sign() <= 0 {
			return NewError(KindValidation, op, errors.New("amount must be greater than 0"))
		}
		if a.Deadline.IsZero() {
			return NewError(KindValidation, op, errors.New("deadline is required"))
		}
	case SubmitWork:
		if strings.TrimSpace(a.Deliverable) == "" {
			return NewError(KindValidation, op, errors.New("deliverable is required")).WithJob(r.JobID)
		}
	case ApproveWork, CancelJob, DisputeJob, ResolveDispute:
	default:
		return NewError(KindValidation, op, errors.New("unsupported action"))
	}
	return nil
}

// MaxDeadlineHours caps relative deadlines at ten years.
const MaxDeadlineHours = 10 * 365 * 24

// DeadlineFromHours resolves a relative deadline against now, truncated to
// whole seconds.
func DeadlineFromHours(now time.Time, hours float64) (time.Time, error) {
	const op = "parse"

	if !(hours > 0) {
		return time.Time{}, NewError(KindValidation, op, errors.New("deadline_hours must be greater than 0"))
	}
	if hours > MaxDeadlineHours {
		return time.Time{}, NewError(KindValidation, op, fmt.Errorf("deadline_hours must be at most %d", MaxDeadlineHours))
	}
	return now.Add(time.Duration(hours * float64(time.Hour))).Truncate(time.Second), nil
}

// ParseCreateJob builds a CreateJob from front-door input. amount is a
// display amount such as "0.01".
func ParseCreateJob(p Projector, worker, amount string, deadline time.Time) (CreateJob, error) {
	const op = "parse"

	if !common.IsHexAddress(worker) {
		return CreateJob{}, NewError(KindValidation, op, fmt.Errorf("invalid worker address %q", worker))
	}
	value, err := p.ParseAmount(amount)
	if err != nil {
		return CreateJob{}, NewError(KindValidation, op, err)
	}
	return CreateJob{
		Worker:   common.HexToAddress(worker),
		Amount:   value,
		Deadline: deadline,
	}, nil
}
