package core

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobID is assigned by the ledger, increases monotonically and is never reused.
type JobID uint64

func (id JobID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseJobID parses a decimal job id.
func ParseJobID(s string) (JobID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return JobID(v), nil
}

type Status string

const (
	StatusCreated       Status = "Created"
	StatusWorkSubmitted Status = "WorkSubmitted"
	StatusCompleted     Status = "Completed"
	StatusCancelled     Status = "Cancelled"
	StatusDisputed      Status = "Disputed"
	StatusUnknown       Status = "Unknown"
)

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Job struct {
	ID       JobID
	Employer common.Address
	Worker   common.Address
	// Amount is denominated in the ledger's smallest unit.
	Amount   *big.Int
	Deadline time.Time

	Status Status
	// StatusCode is the raw ledger code, kept so Unknown statuses stay diagnosable.
	StatusCode uint8

	Deliverable string
	DisputeTime *time.Time
}

// WorkerPayout is what the worker receives on approval after the service fee.
func (j *Job) WorkerPayout(feeBasisPoints int64) *big.Int {
	if j.Amount == nil {
		return new(big.Int)
	}
	fee := ServiceFee(j.Amount, feeBasisPoints)
	return new(big.Int).Sub(j.Amount, fee)
}

// ResolvableAt returns the first instant a dispute on this job may be resolved.
func (j *Job) ResolvableAt(window time.Duration) (time.Time, bool) {
	if j.DisputeTime == nil {
		return time.Time{}, false
	}
	return j.DisputeTime.Add(window), true
}

// ServiceFee computes amount * bps / 10000, rounded down.
func ServiceFee(amount *big.Int, feeBasisPoints int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(feeBasisPoints))
	return fee.Quo(fee, big.NewInt(10_000))
}

type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationReverted  ConfirmationStatus = "reverted"
)

// SubmissionReceipt describes one successful ledger write.
type SubmissionReceipt struct {
	TxHash common.Hash
	Action ActionKind
	// JobID is the emitted id for createJob and the target id otherwise.
	JobID  JobID
	Status ConfirmationStatus
	Block  uint64
}

// Outcome is the result of a confirmed transition. Job is the state re-read
// from the ledger after confirmation.
type Outcome struct {
	Job     *Job
	Receipt SubmissionReceipt
}

// TxStatus answers a follow-up query about a previously submitted transaction.
type TxStatus struct {
	TxHash       common.Hash
	Status       ConfirmationStatus
	Block        uint64
	CreatedJobID *JobID
}
