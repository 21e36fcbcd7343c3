// Package presets wires the common deployments so callers do not have
// to assemble runtime, bus and mutex by hand.
package presets

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/teamlock-io/teamlock/v1/mutex"
	"github.com/teamlock-io/teamlock/v1/runtime/local"
	redisrt "github.com/teamlock-io/teamlock/v1/runtime/redis"
	busredis "github.com/teamlock-io/teamlock/v1/syncbus/redis"
	"github.com/teamlock-io/teamlock/v1/team"
)

// NewStandalone returns a mutex for a single-process, single-member team
// backed entirely by in-memory state. Useful for local development and
// for code that runs the same path standalone and clustered.
func NewStandalone(ctx context.Context, opts ...mutex.Option) (*mutex.Mutex, error) {
	c := local.NewCluster()
	return mutex.Open(ctx, team.Solo(), c.Service(0), opts...)
}

// NewLocalTeam opens one mutex per rank of an in-process team of the
// given size, all sharing one cluster. The collective open runs across
// goroutines, so the call blocks until every rank's Open completes.
func NewLocalTeam(ctx context.Context, size int, opts ...mutex.Option) ([]*mutex.Mutex, error) {
	c := local.NewCluster()
	ms := make([]*mutex.Mutex, size)
	var g errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		g.Go(func() error {
			t, err := team.New("local", r, size)
			if err != nil {
				return err
			}
			m, err := mutex.Open(ctx, t, c.Service(r), opts...)
			if err != nil {
				return err
			}
			ms[r] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ms, nil
}

// RedisOptions configures one team member's connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// TeamID, Rank and Size identify this member within the team. All
	// members must agree on TeamID and Size.
	TeamID string
	Rank   int
	Size   int

	// HoldTTL, when non-zero, bounds how long a crashed holder can wedge
	// the team. Zero means holds never expire.
	HoldTTL time.Duration
}

// NewRedisMember opens this member's side of a team mutex coordinated
// through Redis, using Redis Pub/Sub as the wakeup bus. The call blocks
// until every member of the team reaches its own NewRedisMember. The
// returned close function releases the connection; the mutex itself
// still needs its collective Close first.
func NewRedisMember(ctx context.Context, opts RedisOptions, mopts ...mutex.Option) (*mutex.Mutex, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	bus := busredis.NewRedisBus(client)

	cleanup := func() error {
		berr := bus.Close()
		cerr := client.Close()
		if berr != nil {
			return berr
		}
		return cerr
	}

	svc, err := redisrt.New(redisrt.Options{Client: client, Bus: bus, HoldTTL: opts.HoldTTL})
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	t, err := team.New(opts.TeamID, opts.Rank, opts.Size)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	m, err := mutex.Open(ctx, t, svc, mopts...)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return m, cleanup, nil
}
