package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
	"github.com/nemanja-m/escrowd/internal/shared/logging"
)

var errTicketNotHeld = errors.New("sequencer: ticket is not the current holder")

// DistributedLock extends the in-process FIFO grant across processes that
// share one signing identity.
type DistributedLock interface {
	Obtain(ctx context.Context) (token string, err error)
	Release(ctx context.Context, token string) error
}

type ticket struct {
	id         string
	acquiredAt time.Time
	revoked    chan struct{}
	watchdog   *clock.Timer
	lockToken  string
}

func (t *ticket) ID() string               { return t.id }
func (t *ticket) Revoked() <-chan struct{} { return t.revoked }

func (t *ticket) isRevoked() bool {
	select {
	case <-t.revoked:
		return true
	default:
		return false
	}
}

type waiter struct {
	grant chan *ticket
}

// SigningSequencer hands out one submission ticket at a time, in acquire
// order. A ticket held longer than maxHold is force-released by a watchdog.
type SigningSequencer struct {
	maxHold time.Duration
	clock   clock.Clock
	lock    DistributedLock
	logger  logging.Logger

	mu      sync.Mutex
	holder  *ticket
	waiters []*waiter
	stuck   bool
}

type SequencerOption func(*SigningSequencer)

func WithSequencerClock(c clock.Clock) SequencerOption {
	return func(s *SigningSequencer) { s.clock = c }
}

func WithDistributedLock(l DistributedLock) SequencerOption {
	return func(s *SigningSequencer) { s.lock = l }
}

func NewSigningSequencer(maxHold time.Duration, logger logging.Logger, opts ...SequencerOption) *SigningSequencer {
	s := &SigningSequencer{
		maxHold: maxHold,
		clock:   clock.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire blocks until the caller owns the signing identity or ctx is done.
func (s *SigningSequencer) Acquire(ctx context.Context) (core.Ticket, error) {
	t, err := s.acquireLocal(ctx)
	if err != nil {
		return nil, err
	}
	if s.lock == nil {
		return t, nil
	}

	token, err := s.lock.Obtain(ctx)
	if err != nil {
		_ = s.Release(t)
		return nil, fmt.Errorf("sequencer: obtain distributed lock: %w", err)
	}
	s.mu.Lock()
	if t.isRevoked() {
		s.mu.Unlock()
		// The watchdog already handed the local slot on while Obtain blocked.
		s.releaseDistributed(token)
		return nil, fmt.Errorf("sequencer: obtain distributed lock: %w", core.ErrTicketRevoked)
	}
	t.lockToken = token
	s.mu.Unlock()
	return t, nil
}

func (s *SigningSequencer) acquireLocal(ctx context.Context) (*ticket, error) {
	s.mu.Lock()
	if s.holder == nil && len(s.waiters) == 0 {
		t := s.grantLocked()
		s.mu.Unlock()
		return t, nil
	}
	w := &waiter{grant: make(chan *ticket, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case t := <-w.grant:
		return t, nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, candidate := range s.waiters {
			if candidate == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		s.mu.Unlock()
		// Granted concurrently with cancellation; pass the slot on.
		_ = s.Release(<-w.grant)
		return nil, ctx.Err()
	}
}

// Release returns the ticket. It must be called exactly once per Acquire.
// Releasing a ticket the watchdog already revoked returns ErrTicketRevoked.
func (s *SigningSequencer) Release(ct core.Ticket) error {
	t, ok := ct.(*ticket)
	if !ok || t == nil {
		return errTicketNotHeld
	}

	s.mu.Lock()
	if t.isRevoked() {
		token := t.lockToken
		t.lockToken = ""
		s.mu.Unlock()
		s.releaseDistributed(token)
		return core.ErrTicketRevoked
	}
	if s.holder != t {
		s.mu.Unlock()
		return errTicketNotHeld
	}
	t.watchdog.Stop()
	token := t.lockToken
	held := s.clock.Since(t.acquiredAt)
	s.stuck = false
	s.handOffLocked()
	s.mu.Unlock()

	s.releaseDistributed(token)
	s.logger.Debug("Sequencer ticket released", "ticket_id", t.id, "held", held.String())
	return nil
}

// Stuck reports whether the last ticket was force-released and no ticket has
// been released cleanly since.
func (s *SigningSequencer) Stuck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stuck
}

// Waiting returns the number of callers queued behind the current holder.
func (s *SigningSequencer) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

func (s *SigningSequencer) grantLocked() *ticket {
	t := &ticket{
		id:         uuid.NewString(),
		acquiredAt: s.clock.Now(),
		revoked:    make(chan struct{}),
	}
	t.watchdog = s.clock.AfterFunc(s.maxHold, func() { s.forceRelease(t) })
	s.holder = t
	return t
}

func (s *SigningSequencer) handOffLocked() {
	s.holder = nil
	if len(s.waiters) == 0 {
		return
	}
	next := s.waiters[0]
	s.waiters = s.waiters[1:]
	next.grant <- s.grantLocked()
}

func (s *SigningSequencer) forceRelease(t *ticket) {
	s.mu.Lock()
	if s.holder != t {
		s.mu.Unlock()
		return
	}
	close(t.revoked)
	token := t.lockToken
	t.lockToken = ""
	s.stuck = true
	s.handOffLocked()
	s.mu.Unlock()

	s.logger.Critical(
		"Sequencer ticket force-released by watchdog",
		"ticket_id", t.id,
		"max_hold", s.maxHold.String(),
		"acquired_at", t.acquiredAt.UTC().Format(time.RFC3339),
	)
	s.releaseDistributed(token)
}

func (s *SigningSequencer) releaseDistributed(token string) {
	if s.lock == nil || token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lock.Release(ctx, token); err != nil {
		s.logger.Warn("Failed to release distributed signing lock", "error", err)
	}
}
