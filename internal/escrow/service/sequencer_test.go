package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/escrowd/internal/escrow/core"
)

type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) Debug(msg string, args ...any)    { m.log("DEBUG", msg, args...) }
func (m *mockLogger) Info(msg string, args ...any)     { m.log("INFO", msg, args...) }
func (m *mockLogger) Warn(msg string, args ...any)     { m.log("WARN", msg, args...) }
func (m *mockLogger) Error(msg string, args ...any)    { m.log("ERROR", msg, args...) }
func (m *mockLogger) Critical(msg string, args ...any) { m.log("FATAL", msg, args...) }
func (m *mockLogger) Fatal(msg string, args ...any)    { m.log("FATAL", msg, args...) }

func (m *mockLogger) log(level, msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, fmt.Sprintf("[%s] %s %v", level, msg, args))
}

func (m *mockLogger) contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func waitForWaiters(t *testing.T, s *SigningSequencer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Waiting() == n }, time.Second, time.Millisecond)
}

func TestSequencerGrantsWhenIdle(t *testing.T) {
	s := NewSigningSequencer(time.Minute, &mockLogger{})

	ticket, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ticket.ID())
	require.NoError(t, s.Release(ticket))

	again, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, ticket.ID(), again.ID())
	require.NoError(t, s.Release(again))
}

func TestSequencerGrantsInAcquireOrder(t *testing.T) {
	s := NewSigningSequencer(time.Minute, &mockLogger{})
	first, err := s.Acquire(context.Background())
	require.NoError(t, err)

	const n = 8
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := s.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if err := s.Release(ticket); err != nil {
				t.Errorf("release %d: %v", i, err)
			}
		}(i)
		waitForWaiters(t, s, i+1)
	}

	require.NoError(t, s.Release(first))
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestSequencerAcquireHonoursContext(t *testing.T) {
	s := NewSigningSequencer(time.Minute, &mockLogger{})
	held, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, s.Waiting())

	require.NoError(t, s.Release(held))
	next, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(next))
}

func TestSequencerRejectsDoubleRelease(t *testing.T) {
	s := NewSigningSequencer(time.Minute, &mockLogger{})
	ticket, err := s.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Release(ticket))
	require.Error(t, s.Release(ticket))
}

func TestSequencerWatchdogForceReleases(t *testing.T) {
	mock := clock.NewMock()
	logger := &mockLogger{}
	s := NewSigningSequencer(5*time.Minute, logger, WithSequencerClock(mock))

	stuck, err := s.Acquire(context.Background())
	require.NoError(t, err)

	granted := make(chan core.Ticket, 1)
	go func() {
		ticket, err := s.Acquire(context.Background())
		if err != nil {
			t.Errorf("acquire: %v", err)
			return
		}
		granted <- ticket
	}()
	waitForWaiters(t, s, 1)

	mock.Add(4 * time.Minute)
	select {
	case <-granted:
		t.Fatal("ticket granted before the watchdog bound")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(time.Minute)
	var next core.Ticket
	select {
	case next = <-granted:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not hand the slot to the next waiter")
	}

	select {
	case <-stuck.Revoked():
	default:
		t.Fatal("force-released ticket is not marked revoked")
	}
	require.True(t, s.Stuck())
	require.Eventually(t, func() bool { return logger.contains("[FATAL] Sequencer ticket force-released") }, time.Second, time.Millisecond)

	require.ErrorIs(t, s.Release(stuck), core.ErrTicketRevoked)
	require.NoError(t, s.Release(next))
	require.False(t, s.Stuck())
}

type fakeLock struct {
	mu       sync.Mutex
	obtained []string
	released []string
	err      error
	// gate, when set, blocks Obtain until it is closed.
	gate    chan struct{}
	waiting chan struct{}
}

func (f *fakeLock) Obtain(ctx context.Context) (string, error) {
	if f.gate != nil {
		close(f.waiting)
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	token := fmt.Sprintf("token-%d", len(f.obtained))
	f.obtained = append(f.obtained, token)
	return token, nil
}

func (f *fakeLock) Release(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, token)
	return nil
}

func TestSequencerTakesDistributedLock(t *testing.T) {
	lock := &fakeLock{}
	s := NewSigningSequencer(time.Minute, &mockLogger{}, WithDistributedLock(lock))

	ticket, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"token-0"}, lock.obtained)
	require.Empty(t, lock.released)

	require.NoError(t, s.Release(ticket))
	require.Equal(t, []string{"token-0"}, lock.released)
}

func (f *fakeLock) snapshot() (obtained, released []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.obtained...), append([]string(nil), f.released...)
}

func TestSequencerWatchdogDuringDistributedObtain(t *testing.T) {
	mock := clock.NewMock()
	lock := &fakeLock{gate: make(chan struct{}), waiting: make(chan struct{})}
	s := NewSigningSequencer(5*time.Minute, &mockLogger{}, WithSequencerClock(mock), WithDistributedLock(lock))

	type result struct {
		ticket core.Ticket
		err    error
	}
	done := make(chan result, 1)
	go func() {
		ticket, err := s.Acquire(context.Background())
		done <- result{ticket, err}
	}()

	<-lock.waiting
	mock.Add(5 * time.Minute)
	require.Eventually(t, s.Stuck, time.Second, time.Millisecond)
	close(lock.gate)

	res := <-done
	require.ErrorIs(t, res.err, core.ErrTicketRevoked)
	require.Nil(t, res.ticket)

	obtained, released := lock.snapshot()
	require.Equal(t, []string{"token-0"}, obtained)
	require.Equal(t, []string{"token-0"}, released)

	lock.gate = nil
	next, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(next))
	require.False(t, s.Stuck())
}

func TestSequencerRevokedReleaseFreesDistributedLock(t *testing.T) {
	mock := clock.NewMock()
	lock := &fakeLock{}
	s := NewSigningSequencer(5*time.Minute, &mockLogger{}, WithSequencerClock(mock), WithDistributedLock(lock))

	ticket, err := s.Acquire(context.Background())
	require.NoError(t, err)

	mock.Add(5 * time.Minute)
	require.Eventually(t, func() bool {
		_, released := lock.snapshot()
		return len(released) == 1
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, s.Release(ticket), core.ErrTicketRevoked)
	_, released := lock.snapshot()
	require.Equal(t, []string{"token-0"}, released, "token must be released exactly once")
}

func TestSequencerReleasesLocalSlotWhenDistributedLockFails(t *testing.T) {
	lock := &fakeLock{err: errors.New("connection refused")}
	s := NewSigningSequencer(time.Minute, &mockLogger{}, WithDistributedLock(lock))

	_, err := s.Acquire(context.Background())
	require.ErrorContains(t, err, "connection refused")

	lock.mu.Lock()
	lock.err = nil
	lock.mu.Unlock()

	ticket, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Release(ticket))
}
