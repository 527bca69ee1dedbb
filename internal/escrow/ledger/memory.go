package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
)

type memoryTx struct {
	hash      common.Hash
	from      common.Address
	sub       core.Submission
	status    core.ConfirmationStatus
	block     uint64
	createdID *core.JobID
	reason    error
}

// MemoryLedger is an in-process escrow ledger enforcing the same rules as
// the deployed contract. Every MemoryClient created from it shares state, so
// several signing identities can trade against one ledger.
type MemoryLedger struct {
	clock        clock.Clock
	feeBps       int64
	window       time.Duration
	feeRecipient common.Address
	projector    core.Projector

	mu       sync.Mutex
	jobs     []core.JobSnapshot
	balances map[common.Address]*big.Int
	txs      map[common.Hash]*memoryTx
	pending  []*memoryTx
	nonces   map[common.Address]uint64
	block    uint64
	autoMine bool
	mined    chan struct{}
}

func NewMemoryLedger(clk clock.Clock, feeBasisPoints int64, window time.Duration, feeRecipient common.Address) *MemoryLedger {
	return &MemoryLedger{
		clock:        clk,
		feeBps:       feeBasisPoints,
		window:       window,
		feeRecipient: feeRecipient,
		projector:    core.NewProjector(0),
		balances:     make(map[common.Address]*big.Int),
		txs:          make(map[common.Hash]*memoryTx),
		nonces:       make(map[common.Address]uint64),
		autoMine:     true,
		mined:        make(chan struct{}),
	}
}

// Client returns a LedgerClient signing as signer.
func (l *MemoryLedger) Client(signer common.Address) *MemoryClient {
	return &MemoryClient{ledger: l, signer: signer}
}

// Fund credits addr.
func (l *MemoryLedger) Fund(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

func (l *MemoryLedger) Balance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetAutoMine controls whether submissions are mined immediately. With
// auto-mining off, transactions stay pending until Mine is called.
func (l *MemoryLedger) SetAutoMine(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autoMine = enabled
}

// Pending returns the number of submitted transactions not yet mined.
func (l *MemoryLedger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Mine executes every pending transaction in submission order, one block
// each, and returns how many were mined.
func (l *MemoryLedger) Mine() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.pending)
	for _, tx := range l.pending {
		l.execute(tx)
	}
	l.pending = nil
	return n
}

func (l *MemoryLedger) credit(addr common.Address, amount *big.Int) {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	b.Add(b, amount)
}

func (l *MemoryLedger) balanceOf(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

// validate applies the contract's require checks for from calling sub.
func (l *MemoryLedger) validate(from common.Address, sub core.Submission) error {
	now := l.clock.Now()
	policy := core.Policy{Signer: from, ResolutionWindow: l.window}

	if create, ok := sub.Action.(core.CreateJob); ok {
		if sub.Value == nil || sub.Value.Sign() <= 0 {
			return errors.New("execution reverted: amount must be greater than 0")
		}
		if err := policy.Check(nil, create, now); err != nil {
			return fmt.Errorf("execution reverted: %s", core.DetailOf(err))
		}
		if l.balanceOf(from).Cmp(sub.Value) < 0 {
			return core.ErrInsufficientFunds
		}
		return nil
	}

	if sub.Value != nil && sub.Value.Sign() != 0 {
		return errors.New("execution reverted: function is not payable")
	}
	if uint64(sub.JobID) >= uint64(len(l.jobs)) {
		return errors.New("execution reverted: job does not exist")
	}
	job, err := l.projector.Project(sub.JobID, l.jobs[sub.JobID])
	if err != nil {
		return fmt.Errorf("execution reverted: %w", err)
	}
	if err := policy.Check(job, sub.Action, now); err != nil {
		return fmt.Errorf("execution reverted: %s", core.DetailOf(err))
	}
	return nil
}

func (l *MemoryLedger) execute(tx *memoryTx) {
	l.block++
	tx.block = l.block
	defer func() {
		close(l.mined)
		l.mined = make(chan struct{})
	}()

	if err := l.validate(tx.from, tx.sub); err != nil {
		tx.status = core.ConfirmationReverted
		tx.reason = err
		return
	}
	tx.status = core.ConfirmationConfirmed

	now := big.NewInt(l.clock.Now().Unix())
	switch a := tx.sub.Action.(type) {
	case core.CreateJob:
		id := core.JobID(len(l.jobs))
		l.balanceOf(tx.from).Sub(l.balanceOf(tx.from), tx.sub.Value)
		l.jobs = append(l.jobs, core.JobSnapshot{
			Employer:    tx.from,
			Worker:      a.Worker,
			Amount:      new(big.Int).Set(tx.sub.Value),
			Deadline:    big.NewInt(a.Deadline.Unix()),
			Status:      statusCode(core.StatusCreated),
			DisputeTime: new(big.Int),
		})
		tx.createdID = &id
	case core.SubmitWork:
		job := &l.jobs[tx.sub.JobID]
		job.Deliverable = a.Deliverable
		job.Status = statusCode(core.StatusWorkSubmitted)
	case core.ApproveWork:
		l.payWorker(&l.jobs[tx.sub.JobID])
	case core.CancelJob:
		l.refundEmployer(&l.jobs[tx.sub.JobID])
	case core.DisputeJob:
		job := &l.jobs[tx.sub.JobID]
		job.Status = statusCode(core.StatusDisputed)
		job.DisputeTime = now
	case core.ResolveDispute:
		job := &l.jobs[tx.sub.JobID]
		if job.Deliverable != "" {
			l.payWorker(job)
		} else {
			l.refundEmployer(job)
		}
	}
}

func (l *MemoryLedger) payWorker(job *core.JobSnapshot) {
	fee := core.ServiceFee(job.Amount, l.feeBps)
	l.credit(job.Worker, new(big.Int).Sub(job.Amount, fee))
	l.credit(l.feeRecipient, fee)
	job.Status = statusCode(core.StatusCompleted)
}

func (l *MemoryLedger) refundEmployer(job *core.JobSnapshot) {
	l.credit(job.Employer, job.Amount)
	job.Status = statusCode(core.StatusCancelled)
}

func statusCode(s core.Status) uint8 {
	code, _ := core.StatusCode(s)
	return code
}

// MemoryClient is one signer's view of a MemoryLedger.
type MemoryClient struct {
	ledger *MemoryLedger
	signer common.Address
}

func (c *MemoryClient) Signer() common.Address {
	return c.signer
}

func (c *MemoryClient) ReadJob(ctx context.Context, id core.JobID) (core.JobSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.JobSnapshot{}, err
	}
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	// Unknown ids read as an empty struct, as they do on chain.
	if uint64(id) >= uint64(len(l.jobs)) {
		return core.JobSnapshot{Amount: new(big.Int), Deadline: new(big.Int), DisputeTime: new(big.Int)}, nil
	}
	job := l.jobs[id]
	job.Amount = new(big.Int).Set(job.Amount)
	job.Deadline = new(big.Int).Set(job.Deadline)
	job.DisputeTime = new(big.Int).Set(job.DisputeTime)
	return job, nil
}

func (c *MemoryClient) JobCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()
	return uint64(len(c.ledger.jobs)), nil
}

func (c *MemoryClient) Submit(ctx context.Context, sub core.Submission) (core.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return core.TxHandle{}, err
	}
	l := c.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validate(c.signer, sub); err != nil {
		if errors.Is(err, core.ErrInsufficientFunds) {
			return core.TxHandle{}, err
		}
		return core.TxHandle{}, fmt.Errorf("%w: %w", core.ErrRejected, err)
	}

	nonce := l.nonces[c.signer]
	l.nonces[c.signer] = nonce + 1
	tx := &memoryTx{
		hash:   crypto.Keccak256Hash(c.signer.Bytes(), new(big.Int).SetUint64(nonce).Bytes()),
		from:   c.signer,
		sub:    sub,
		status: core.ConfirmationPending,
	}
	l.txs[tx.hash] = tx
	if l.autoMine {
		l.execute(tx)
	} else {
		l.pending = append(l.pending, tx)
	}

	return core.TxHandle{
		Hash:        tx.hash,
		Action:      sub.Action.Kind(),
		JobID:       sub.JobID,
		SubmittedAt: l.clock.Now(),
	}, nil
}

func (c *MemoryClient) AwaitConfirmation(ctx context.Context, handle core.TxHandle, timeout time.Duration) (core.Confirmation, error) {
	l := c.ledger
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		l.mu.Lock()
		tx, ok := l.txs[handle.Hash]
		if !ok {
			l.mu.Unlock()
			return core.Confirmation{}, fmt.Errorf("%s: %w", handle.Hash.Hex(), core.ErrTxNotFound)
		}
		confirmation := core.Confirmation{Hash: tx.hash, Block: tx.block, CreatedJobID: tx.createdID}
		status, reason, mined := tx.status, tx.reason, l.mined
		l.mu.Unlock()

		switch status {
		case core.ConfirmationConfirmed:
			return confirmation, nil
		case core.ConfirmationReverted:
			return confirmation, fmt.Errorf("%w: %w", core.ErrReverted, reason)
		}
		if expired == nil {
			return core.Confirmation{}, core.ErrConfirmationTimeout
		}

		select {
		case <-ctx.Done():
			return core.Confirmation{}, ctx.Err()
		case <-expired:
			return core.Confirmation{}, core.ErrConfirmationTimeout
		case <-mined:
		}
	}
}
