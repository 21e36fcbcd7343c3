package local

import (
	"context"
	"fmt"
	"sync"

	tlerrors "github.com/teamlock-io/teamlock/v1/errors"
	"github.com/teamlock-io/teamlock/v1/runtime"
	"github.com/teamlock-io/teamlock/v1/team"
)

type opKind uint8

const (
	opCreate opKind = iota + 1
	opDestroy
)

func (k opKind) String() string {
	if k == opCreate {
		return "create_lock"
	}
	return "destroy_lock"
}

type slotKey struct {
	team string
	seq  uint64
}

// barrier tracks one collective slot: every rank of the team must arrive
// with the same operation before anyone proceeds.
type barrier struct {
	kind    opKind
	size    int
	arrived int
	done    chan struct{}
	err     error
	handle  runtime.Handle
}

type lockState struct {
	held    bool
	holder  int
	waiters map[chan struct{}]struct{}
}

// Cluster hosts every rank of a process-local SPMD run: one goroutine
// per rank, all sharing the cluster's lock table. It backs tests and
// single-process deployments; cross-process coordination lives in the
// redis runtime.
type Cluster struct {
	mu    sync.Mutex
	slots map[slotKey]*barrier
	locks map[runtime.Handle]*lockState
}

// NewCluster returns an empty Cluster.
func NewCluster() *Cluster {
	return &Cluster{
		slots: make(map[slotKey]*barrier),
		locks: make(map[runtime.Handle]*lockState),
	}
}

// Service returns the LockService as seen by one rank. Each rank
// goroutine must use its own Service; the per-team collective counter
// lives there.
func (c *Cluster) Service(rank int) *Service {
	return &Service{c: c, rank: rank, next: make(map[string]uint64)}
}

// Service is a per-rank view of the cluster.
type Service struct {
	c    *Cluster
	rank int

	mu   sync.Mutex
	next map[string]uint64
}

var _ runtime.LockService = (*Service)(nil)

func (s *Service) nextSeq(teamID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next[teamID]
	s.next[teamID] = n + 1
	return n
}

// arrive registers this rank at the collective slot. The returned
// barrier's done channel closes once every rank arrived, or immediately
// with err set when arrivals disagree on the operation.
func (c *Cluster) arrive(key slotKey, kind opKind, size int, h runtime.Handle) *barrier {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.slots[key]
	if b == nil {
		b = &barrier{kind: kind, size: size, done: make(chan struct{}), handle: h}
		c.slots[key] = b
	}
	if b.err != nil {
		return b
	}
	if b.kind != kind || b.size != size || b.handle != h {
		b.err = fmt.Errorf("%w: rank %s vs slot %s at %s#%d",
			tlerrors.ErrMismatch, kind, b.kind, key.team, key.seq)
		delete(c.slots, key)
		close(b.done)
		return b
	}
	b.arrived++
	if b.arrived == b.size {
		switch kind {
		case opCreate:
			c.locks[b.handle] = &lockState{waiters: make(map[chan struct{}]struct{})}
		case opDestroy:
			delete(c.locks, b.handle)
		}
		delete(c.slots, key)
		close(b.done)
	}
	return b
}

func waitBarrier(ctx context.Context, op string, b *barrier) error {
	select {
	case <-b.done:
		if b.err != nil {
			return runtime.Errf(op, runtime.StatusMismatch, b.err)
		}
		return nil
	case <-ctx.Done():
		return runtime.Errf(op, runtime.StatusCanceled, ctx.Err())
	}
}

// CreateLock implements LockService.CreateLock.
func (s *Service) CreateLock(ctx context.Context, t team.Team) (runtime.Handle, error) {
	if t.IsZero() {
		return runtime.Handle{}, runtime.Errf("create_lock", runtime.StatusInvalidHandle, fmt.Errorf("zero team"))
	}
	seq := s.nextSeq(t.ID())
	h := runtime.NewHandle(t.ID(), seq)
	b := s.c.arrive(slotKey{team: t.ID(), seq: seq}, opCreate, t.Size(), h)
	if err := waitBarrier(ctx, "create_lock", b); err != nil {
		return runtime.Handle{}, err
	}
	return b.handle, nil
}

// DestroyLock implements LockService.DestroyLock.
func (s *Service) DestroyLock(ctx context.Context, t team.Team, h runtime.Handle) error {
	if h.IsZero() {
		return runtime.Errf("destroy_lock", runtime.StatusInvalidHandle, nil)
	}
	s.c.mu.Lock()
	_, ok := s.c.locks[h]
	s.c.mu.Unlock()
	if !ok {
		return runtime.Errf("destroy_lock", runtime.StatusInvalidHandle, fmt.Errorf("unknown lock %s", h))
	}
	seq := s.nextSeq(t.ID())
	b := s.c.arrive(slotKey{team: t.ID(), seq: seq}, opDestroy, t.Size(), h)
	return waitBarrier(ctx, "destroy_lock", b)
}

// Acquire implements LockService.Acquire. Waiters are woken in no
// particular order and re-race for the lock.
func (s *Service) Acquire(ctx context.Context, h runtime.Handle) error {
	for {
		s.c.mu.Lock()
		st := s.c.locks[h]
		if st == nil {
			s.c.mu.Unlock()
			return runtime.Errf("acquire", runtime.StatusInvalidHandle, fmt.Errorf("unknown lock %s", h))
		}
		if !st.held {
			st.held = true
			st.holder = s.rank
			s.c.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		st.waiters[ch] = struct{}{}
		s.c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			s.c.mu.Lock()
			delete(st.waiters, ch)
			s.c.mu.Unlock()
			return runtime.Errf("acquire", runtime.StatusCanceled, ctx.Err())
		}
	}
}

// TryAcquire implements LockService.TryAcquire.
func (s *Service) TryAcquire(ctx context.Context, h runtime.Handle) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	st := s.c.locks[h]
	if st == nil {
		return false, runtime.Errf("try_acquire", runtime.StatusInvalidHandle, fmt.Errorf("unknown lock %s", h))
	}
	if st.held {
		return false, nil
	}
	st.held = true
	st.holder = s.rank
	return true, nil
}

// Release implements LockService.Release. Releasing a lock this rank
// does not hold is an invalid-handle failure; the mutex escalates it.
func (s *Service) Release(ctx context.Context, h runtime.Handle) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	st := s.c.locks[h]
	if st == nil {
		return runtime.Errf("release", runtime.StatusInvalidHandle, fmt.Errorf("unknown lock %s", h))
	}
	if !st.held || st.holder != s.rank {
		return runtime.Errf("release", runtime.StatusInvalidHandle, fmt.Errorf("rank %d does not hold %s", s.rank, h))
	}
	st.held = false
	for ch := range st.waiters {
		close(ch)
		delete(st.waiters, ch)
	}
	return nil
}
