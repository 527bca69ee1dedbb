package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type transition struct {
	from []Status
	to   []Status
}

var transitions = map[ActionKind]transition{
	ActionCreateJob: {
		to: []Status{StatusCreated},
	},
	ActionSubmitWork: {
		from: []Status{StatusCreated},
		to:   []Status{StatusWorkSubmitted},
	},
	ActionApproveWork: {
		from: []Status{StatusWorkSubmitted},
		to:   []Status{StatusCompleted},
	},
	ActionCancelJob: {
		from: []Status{StatusCreated},
		to:   []Status{StatusCancelled},
	},
	ActionDisputeJob: {
		from: []Status{StatusCreated, StatusWorkSubmitted},
		to:   []Status{StatusDisputed},
	},
	ActionResolveDispute: {
		from: []Status{StatusDisputed},
		to:   []Status{StatusCompleted, StatusCancelled},
	},
}

var allowedStatusChanges = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusWorkSubmitted: {},
		StatusCancelled:     {},
		StatusDisputed:      {},
	},
	StatusWorkSubmitted: {
		StatusCompleted: {},
		StatusDisputed:  {},
	},
	StatusDisputed: {
		StatusCompleted: {},
		StatusCancelled: {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// ValidateStatusChange reports whether the ledger may move a job from one
// status to another.
func ValidateStatusChange(from, to Status) error {
	next, ok := allowedStatusChanges[from]
	if !ok {
		return fmt.Errorf("invalid job status: %q", from)
	}
	if _, ok := allowedStatusChanges[to]; !ok {
		return fmt.Errorf("invalid job status: %q", to)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("invalid job transition: %s -> %s", from, to)
	}
	return nil
}

// ExpectedResults lists the statuses an action may leave a job in.
func ExpectedResults(kind ActionKind) []Status {
	return slices.Clone(transitions[kind].to)
}

// RequiredStatuses lists the statuses an action may start from.
func RequiredStatuses(kind ActionKind) []Status {
	return slices.Clone(transitions[kind].from)
}

// Policy evaluates the transition table against a projected job from the
// point of view of one signing identity.
type Policy struct {
	Signer           common.Address
	ResolutionWindow time.Duration
}

// Check returns an InvalidTransition error when action cannot succeed
// against job at now. job is ignored for CreateJob.
func (p Policy) Check(job *Job, action Action, now time.Time) error {
	const op = "check"

	if a, ok := action.(CreateJob); ok {
		if !a.Deadline.After(now) {
			return NewError(KindInvalidTransition, op,
				fmt.Errorf("deadline %s is not in the future", a.Deadline.UTC().Format(time.RFC3339)))
		}
		if a.Worker == p.Signer {
			return NewError(KindInvalidTransition, op,
				fmt.Errorf("worker must differ from employer %s", p.Signer.Hex()))
		}
		return nil
	}

	if job == nil {
		return NewError(KindInternal, op, fmt.Errorf("no job state for %s", action.Kind()))
	}
	if job.Status == StatusUnknown {
		return invalid(op, job.ID, "job has unrecognized status code %d", job.StatusCode)
	}

	t, ok := transitions[action.Kind()]
	if !ok {
		return NewError(KindValidation, op, fmt.Errorf("unsupported action %q", action.Kind()))
	}
	if !slices.Contains(t.from, job.Status) {
		return invalid(op, job.ID, "cannot %s a job in status %s", action.Kind(), job.Status)
	}

	switch action.(type) {
	case SubmitWork:
		if job.Worker != p.Signer {
			return invalid(op, job.ID, "only the worker %s may submit work", job.Worker.Hex())
		}
		if !now.Before(job.Deadline) {
			return invalid(op, job.ID, "deadline %s has passed", job.Deadline.UTC().Format(time.RFC3339))
		}
	case ApproveWork:
		if job.Employer != p.Signer {
			return invalid(op, job.ID, "only the employer %s may approve work", job.Employer.Hex())
		}
	case CancelJob:
		if now.Before(job.Deadline) {
			return invalid(op, job.ID, "deadline %s has not passed", job.Deadline.UTC().Format(time.RFC3339))
		}
	case DisputeJob:
		if job.Employer != p.Signer && job.Worker != p.Signer {
			return invalid(op, job.ID, "only the employer or worker may raise a dispute")
		}
	case ResolveDispute:
		at, ok := job.ResolvableAt(p.ResolutionWindow)
		if !ok {
			return invalid(op, job.ID, "disputed job has no dispute time")
		}
		if now.Before(at) {
			return invalid(op, job.ID, "dispute can be resolved from %s", at.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func invalid(op string, id JobID, format string, args ...any) *Error {
	return NewError(KindInvalidTransition, op, fmt.Errorf(format, args...)).WithJob(id)
}
