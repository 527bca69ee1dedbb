package core

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EscrowService is what the front doors call.
type EscrowService interface {
	Execute(ctx context.Context, req TransitionRequest) (*Outcome, error)
	Query(ctx context.Context, id JobID) (*Job, error)
	JobCount(ctx context.Context) (uint64, error)
	TransactionStatus(ctx context.Context, hash common.Hash) (*TxStatus, error)
	Signer() common.Address
	Projector() Projector
	FeeBasisPoints() int64
}

// Sequencer grants exclusive submission slots in acquire order.
type Sequencer interface {
	Acquire(ctx context.Context) (Ticket, error)
	Release(ticket Ticket) error
}

// Ticket is an exclusive submission slot.
type Ticket interface {
	ID() string
	// Revoked is closed when the watchdog force-releases the ticket.
	Revoked() <-chan struct{}
}

// ServiceInfo describes the deployment the service talks to.
type ServiceInfo struct {
	Name        string
	Version     string
	Contract    common.Address
	Network     string
	ExplorerURL string
}

// ExplorerLink returns the block explorer URL for a transaction, or "" when
// no explorer is configured.
func (i ServiceInfo) ExplorerLink(hash common.Hash) string {
	if i.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(i.ExplorerURL, "/") + "/tx/" + hash.Hex()
}
