package core

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobSnapshot is the job record exactly as the ledger encodes it.
type JobSnapshot struct {
	Employer    common.Address
	Worker      common.Address
	Amount      *big.Int
	Deadline    *big.Int
	Status      uint8
	Deliverable string
	DisputeTime *big.Int
}

// Submission is one mutating call. Value is attached funds in the smallest
// unit, only used by CreateJob.
type Submission struct {
	JobID  JobID
	Action Action
	Value  *big.Int
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash        common.Hash
	Action      ActionKind
	JobID       JobID
	SubmittedAt time.Time
}

// Confirmation is the result of a confirmed transaction.
type Confirmation struct {
	Hash         common.Hash
	Block        uint64
	CreatedJobID *JobID
}

// LedgerClient reads and mutates the external escrow ledger.
//
// ReadJob and JobCount are idempotent and safe to retry. Submit must never
// be retried by the implementation. AwaitConfirmation waits up to timeout
// (one check when timeout <= 0) and fails with ErrConfirmationTimeout while
// the transaction is pending, or ErrReverted when the ledger refused it.
type LedgerClient interface {
	ReadJob(ctx context.Context, id JobID) (JobSnapshot, error)
	JobCount(ctx context.Context) (uint64, error)
	// Submit never retries. An error wrapping ErrBroadcastUnknown comes with
	// a handle whose hash may already be on the ledger.
	Submit(ctx context.Context, sub Submission) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error)
	Signer() common.Address
}
