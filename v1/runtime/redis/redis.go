package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	guuid "github.com/google/uuid"
	hcuuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/teamlock-io/teamlock/v1/runtime"
	"github.com/teamlock-io/teamlock/v1/syncbus"
	"github.com/teamlock-io/teamlock/v1/team"
)

// releaseScript deletes the held marker only when it still carries the
// caller's token, so a release can never free someone else's hold.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// pollInterval bounds how long a parked waiter can miss a bus event
// before it re-checks the lock directly.
const pollInterval = 500 * time.Millisecond

// Options configures a redis-backed lock service.
type Options struct {
	// Client is the shared Redis connection; required.
	Client *redis.Client
	// Bus carries unlock and barrier wakeups between members. Every
	// member must attach to the same fabric; defaults to an in-process
	// bus, which is only correct when all members share the process.
	Bus syncbus.Bus
	// HoldTTL, when non-zero, expires a hold after the given duration to
	// keep a crashed holder from wedging the team forever. Zero means no
	// expiry.
	HoldTTL time.Duration
}

// Service implements runtime.LockService on a shared Redis instance.
// Collective create/destroy are counted barriers on Redis keys; holds
// are SETNX tokens; blocking acquires park on the bus unlock channel.
type Service struct {
	client *redis.Client
	bus    syncbus.Bus
	ttl    time.Duration
	id     string

	mu     sync.Mutex
	seqs   map[string]uint64
	tokens map[runtime.Handle]string
}

var _ runtime.LockService = (*Service)(nil)

// New returns a Service for one team member.
func New(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis runtime: nil client")
	}
	if opts.Bus == nil {
		opts.Bus = syncbus.NewInMemoryBus()
	}
	id, err := hcuuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	return &Service{
		client: opts.Client,
		bus:    opts.Bus,
		ttl:    opts.HoldTTL,
		id:     id,
		seqs:   make(map[string]uint64),
		tokens: make(map[runtime.Handle]string),
	}, nil
}

// ID returns the member's instance id, unique per Service.
func (s *Service) ID() string { return s.id }

func (s *Service) nextSeq(teamID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seqs[teamID]
	s.seqs[teamID] = n + 1
	return n
}

func heldKey(h runtime.Handle) string    { return h.Key() + ":held" }
func unlockChan(h runtime.Handle) string { return "unlock:" + h.Key() }

// barrier counts arrivals on key until size members checked in. It
// returns this member's arrival index. A member that never arrives
// blocks the others until their contexts cancel.
func (s *Service) barrier(ctx context.Context, op, key string, size int) (int64, error) {
	ch, err := s.bus.Subscribe(ctx, "barrier:"+key)
	if err != nil {
		return 0, runtime.Errf(op, runtime.StatusBackend, err)
	}
	defer func() { _ = s.bus.Unsubscribe(context.Background(), "barrier:"+key, ch) }()

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, runtime.Errf(op, runtime.StatusBackend, err)
	}
	if n >= int64(size) {
		_ = s.bus.Publish(ctx, "barrier:"+key)
		return n, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		cur, err := s.client.Get(ctx, key).Int64()
		if err == redis.Nil {
			// This member already INCR'd the counter, so it can only be
			// missing because the last arriver completed the barrier and
			// cleaned it up.
			return n, nil
		}
		if err != nil {
			return 0, runtime.Errf(op, runtime.StatusBackend, err)
		}
		if cur >= int64(size) {
			return n, nil
		}
		select {
		case <-ch:
		case <-ticker.C:
		case <-ctx.Done():
			return 0, runtime.Errf(op, runtime.StatusCanceled, ctx.Err())
		}
	}
}

// CreateLock implements LockService.CreateLock.
func (s *Service) CreateLock(ctx context.Context, t team.Team) (runtime.Handle, error) {
	if t.IsZero() {
		return runtime.Handle{}, runtime.Errf("create_lock", runtime.StatusInvalidHandle, fmt.Errorf("zero team"))
	}
	seq := s.nextSeq(t.ID())
	h := runtime.NewHandle(t.ID(), seq)
	if _, err := s.barrier(ctx, "create_lock", h.Key()+":join", t.Size()); err != nil {
		return runtime.Handle{}, err
	}
	return h, nil
}

// DestroyLock implements LockService.DestroyLock. The last member
// through the barrier deletes the lock state.
func (s *Service) DestroyLock(ctx context.Context, t team.Team, h runtime.Handle) error {
	if h.IsZero() {
		return runtime.Errf("destroy_lock", runtime.StatusInvalidHandle, nil)
	}
	n, err := s.barrier(ctx, "destroy_lock", h.Key()+":leave", t.Size())
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.tokens, h)
	s.mu.Unlock()
	if n >= int64(t.Size()) {
		if err := s.client.Del(ctx, heldKey(h), h.Key()+":join", h.Key()+":leave").Err(); err != nil {
			return runtime.Errf("destroy_lock", runtime.StatusBackend, err)
		}
	}
	return nil
}

// Acquire implements LockService.Acquire. A contended call subscribes to
// the unlock channel once and parks on it between attempts; wakeup order
// among waiters is unspecified.
func (s *Service) Acquire(ctx context.Context, h runtime.Handle) error {
	ok, err := s.TryAcquire(ctx, h)
	if err != nil || ok {
		return err
	}
	ch, err := s.bus.Subscribe(ctx, unlockChan(h))
	if err != nil {
		return runtime.Errf("acquire", runtime.StatusBackend, err)
	}
	defer func() { _ = s.bus.Unsubscribe(context.Background(), unlockChan(h), ch) }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		// Re-check after subscribing so a release between the failed
		// attempt and the subscription is not missed.
		ok, err := s.TryAcquire(ctx, h)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ticker.C:
		case <-ctx.Done():
			return runtime.Errf("acquire", runtime.StatusCanceled, ctx.Err())
		}
	}
}

// TryAcquire implements LockService.TryAcquire.
func (s *Service) TryAcquire(ctx context.Context, h runtime.Handle) (bool, error) {
	if h.IsZero() {
		return false, runtime.Errf("try_acquire", runtime.StatusInvalidHandle, nil)
	}
	token := guuid.NewString()
	ok, err := s.client.SetNX(ctx, heldKey(h), token, s.ttl).Result()
	if err != nil {
		return false, runtime.Errf("try_acquire", runtime.StatusBackend, err)
	}
	if !ok {
		return false, nil
	}
	s.mu.Lock()
	s.tokens[h] = token
	s.mu.Unlock()
	return true, nil
}

// Release implements LockService.Release. Releasing a lock this member
// does not hold is an invalid-handle failure.
func (s *Service) Release(ctx context.Context, h runtime.Handle) error {
	s.mu.Lock()
	token, ok := s.tokens[h]
	s.mu.Unlock()
	if !ok {
		return runtime.Errf("release", runtime.StatusInvalidHandle, fmt.Errorf("member does not hold %s", h))
	}
	res, err := releaseScript.Run(ctx, s.client, []string{heldKey(h)}, token).Result()
	if err != nil && err != redis.Nil {
		return runtime.Errf("release", runtime.StatusBackend, err)
	}
	s.mu.Lock()
	delete(s.tokens, h)
	s.mu.Unlock()
	if n, _ := res.(int64); n == 0 {
		// The hold expired or was taken over; the caller's view of
		// ownership is stale.
		return runtime.Errf("release", runtime.StatusInvalidHandle, fmt.Errorf("hold on %s already gone", h))
	}
	_ = s.bus.Publish(ctx, unlockChan(h))
	return nil
}
