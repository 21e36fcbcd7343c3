package mutex

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tlerrors "github.com/teamlock-io/teamlock/v1/errors"
	"github.com/teamlock-io/teamlock/v1/metrics"
	"github.com/teamlock-io/teamlock/v1/runtime"
	"github.com/teamlock-io/teamlock/v1/team"
	"github.com/teamlock-io/teamlock/v1/watchbus"
)

var tracer = otel.Tracer("github.com/teamlock-io/teamlock/v1/mutex")

// FailHandler receives unrecoverable backend failures. The default
// handler prints the failed operation and exits the process. A
// replacement handler that returns leaves the mutex in the state the
// failure found it in; tests use this to observe escalation.
type FailHandler func(op string, err error)

func defaultFail(op string, err error) {
	fmt.Fprintf(os.Stderr, "teamlock: %s failed: %v\n", op, err)
	os.Exit(1)
}

// Option configures a Mutex at Open time.
type Option func(*Mutex)

// WithFailHandler replaces the process-terminating default handler.
func WithFailHandler(fn FailHandler) Option {
	return func(m *Mutex) { m.fail = fn }
}

// WithEvents publishes holder transitions for this mutex to bus, keyed
// by the handle string.
func WithEvents(bus watchbus.WatchBus) Option {
	return func(m *Mutex) { m.events = bus }
}

// Mutex is a distributed mutual-exclusion lock scoped to a team. It
// pairs the team with the runtime handle of one distributed lock
// instance; exactly one live Mutex per process owns a given handle.
type Mutex struct {
	team   team.Team
	svc    runtime.LockService
	h      runtime.Handle
	valid  bool
	fail   FailHandler
	events watchbus.WatchBus
}

var _ sync.Locker = (*Mutex)(nil)

// Open allocates the distributed lock for t through svc and returns a
// mutex in the unlocked state. Collective: it blocks until every member
// of t reaches its own Open for the same collective slot. A zero team
// means team.All().
func Open(ctx context.Context, t team.Team, svc runtime.LockService, opts ...Option) (*Mutex, error) {
	if svc == nil {
		return nil, runtime.Errf("create_lock", runtime.StatusInvalidHandle, fmt.Errorf("nil lock service"))
	}
	if t.IsZero() {
		t = team.All()
	}
	m := &Mutex{team: t, svc: svc, fail: defaultFail}
	for _, opt := range opts {
		opt(m)
	}
	h, err := svc.CreateLock(ctx, t)
	if err != nil {
		return nil, err
	}
	m.h = h
	m.valid = true
	return m, nil
}

// Close frees the distributed lock state. Collective, mirroring Open:
// every surviving member must call it in matching order. The caller is
// responsible for not holding the lock. Close on a moved-from or
// already-closed mutex is a no-op, so transferring ownership never
// risks a double free.
func (m *Mutex) Close(ctx context.Context) error {
	if !m.valid {
		return nil
	}
	m.valid = false
	return m.svc.DestroyLock(ctx, m.team, m.h)
}

// Lock blocks until this member holds the lock. There is no timeout or
// cancellation: the wait ends only when the runtime grants ownership.
// Calling Lock while already holding deadlocks.
func (m *Mutex) Lock() {
	if !m.valid {
		m.fail("acquire", tlerrors.ErrMoved)
		return
	}
	ctx, span := tracer.Start(context.Background(), "mutex.Lock", trace.WithAttributes(
		attribute.String("teamlock.team", m.team.ID()),
		attribute.String("teamlock.handle", m.h.String()),
	))
	defer span.End()

	if err := m.svc.Acquire(ctx, m.h); err != nil {
		span.RecordError(err)
		m.fail("acquire", err)
		return
	}
	metrics.AcquireCounter.Inc()
	metrics.HeldGauge.Inc()
	m.notify(ctx, "acquired")
}

// TryLock attempts acquisition without blocking and reports whether the
// lock was taken. False means the lock is held elsewhere; state is
// unchanged. A runtime failure, as opposed to a busy lock, still
// escalates.
func (m *Mutex) TryLock() bool {
	if !m.valid {
		m.fail("try_acquire", tlerrors.ErrMoved)
		return false
	}
	ctx := context.Background()
	ok, err := m.svc.TryAcquire(ctx, m.h)
	if err != nil {
		m.fail("try_acquire", err)
		return false
	}
	if !ok {
		metrics.ContentionCounter.Inc()
		return false
	}
	metrics.AcquireCounter.Inc()
	metrics.HeldGauge.Inc()
	m.notify(ctx, "acquired")
	return true
}

// Unlock releases ownership obtained by Lock or a successful TryLock.
// Calling it without holding the lock is undefined; the runtimes here
// surface it as a fatal invalid-handle failure.
func (m *Mutex) Unlock() {
	if !m.valid {
		m.fail("release", tlerrors.ErrMoved)
		return
	}
	ctx, span := tracer.Start(context.Background(), "mutex.Unlock", trace.WithAttributes(
		attribute.String("teamlock.team", m.team.ID()),
		attribute.String("teamlock.handle", m.h.String()),
	))
	defer span.End()

	if err := m.svc.Release(ctx, m.h); err != nil {
		span.RecordError(err)
		m.fail("release", err)
		return
	}
	metrics.ReleaseCounter.Inc()
	metrics.HeldGauge.Dec()
	m.notify(ctx, "released")
}

// With runs fn while holding the lock and releases it on every path.
func (m *Mutex) With(fn func()) {
	m.Lock()
	defer m.Unlock()
	fn()
}

// Handoff transfers handle ownership to a new Mutex within the same
// process; no distributed coordination happens. The source is
// invalidated: operating on it afterwards escalates, and closing it is
// a no-op.
func (m *Mutex) Handoff() *Mutex {
	if !m.valid {
		m.fail("handoff", tlerrors.ErrMoved)
		return nil
	}
	next := *m
	m.valid = false
	return &next
}

// Team returns the team the mutex is scoped to.
func (m *Mutex) Team() team.Team { return m.team }

// Handle returns the runtime handle; zero for a moved-from mutex.
func (m *Mutex) Handle() runtime.Handle {
	if !m.valid {
		return runtime.Handle{}
	}
	return m.h
}

func (m *Mutex) notify(ctx context.Context, event string) {
	if m.events == nil {
		return
	}
	evt := watchbus.LockEvent{Lock: m.h.String(), Event: event, Rank: m.team.Rank()}
	_ = m.events.Publish(ctx, m.h.String(), evt.Encode())
}
