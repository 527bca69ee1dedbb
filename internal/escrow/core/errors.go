package core

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the stable error vocabulary surfaced to front doors.
type Kind string

const (
	KindValidation              Kind = "validation_error"
	KindNotFound                Kind = "not_found"
	KindInvalidTransition       Kind = "invalid_transition"
	KindRejectedExternally      Kind = "transition_rejected_externally"
	KindTransientNetwork        Kind = "transient_network_error"
	KindSubmittedButUnconfirmed Kind = "submitted_but_unconfirmed"
	KindTimeout                 Kind = "timeout"
	KindSequencerStuck          Kind = "sequencer_stuck"
	KindInternal                Kind = "internal"
)

// Ledger-side failures. Ledger clients wrap these; the orchestrator turns
// them into an *Error with the matching Kind.
var (
	ErrJobNotFound         = errors.New("escrow: job not found")
	ErrTxNotFound          = errors.New("escrow: transaction not found")
	ErrTransient           = errors.New("escrow: transient network error")
	ErrRejected            = errors.New("escrow: rejected by submitter")
	ErrInsufficientFunds   = errors.New("escrow: insufficient funds")
	ErrConfirmationTimeout = errors.New("escrow: confirmation timed out")
	ErrReverted            = errors.New("escrow: transaction reverted")
	ErrTicketRevoked       = errors.New("escrow: sequencer ticket was force-released")
	// ErrBroadcastUnknown marks a signed transaction whose broadcast failed
	// in a way that does not prove the node dropped it.
	ErrBroadcastUnknown = errors.New("escrow: broadcast outcome unknown")
)

// Kinds whose underlying errors carry transport and node internals. Front
// doors get a fixed message for these; the full chain only goes to logs.
var cannedDetail = map[Kind]string{
	KindTransientNetwork:        "ledger node unavailable, retry later",
	KindTimeout:                 "operation timed out",
	KindInternal:                "internal error",
	KindSubmittedButUnconfirmed: "transaction submitted but not confirmed yet, check its status by hash before retrying",
	KindSequencerStuck:          "signing slot was force-released, check the transaction status before retrying",
}

// Error is a classified failure.
type Error struct {
	Kind  Kind
	Op    string
	JobID *JobID
	// TxRef is set once a transaction has been handed to the ledger.
	TxRef *common.Hash
	Err   error
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) WithJob(id JobID) *Error {
	e.JobID = &id
	return e
}

func (e *Error) WithTx(hash common.Hash) *Error {
	e.TxRef = &hash
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("escrow: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.JobID != nil {
		b.WriteString(" (job ")
		b.WriteString(e.JobID.String())
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the caller-facing message without the kind prefix.
func (e *Error) Detail() string {
	if msg, ok := cannedDetail[e.Kind]; ok {
		return msg
	}
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// TxRefOf returns the transaction reference carried by err, if any.
func TxRefOf(err error) (common.Hash, bool) {
	var e *Error
	if errors.As(err, &e) && e.TxRef != nil {
		return *e.TxRef, true
	}
	return common.Hash{}, false
}

// DetailOf returns a caller-safe message for err.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail()
	}
	return "internal error"
}
