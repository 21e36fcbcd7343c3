package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	tlerrors "github.com/teamlock-io/teamlock/v1/errors"
	"github.com/teamlock-io/teamlock/v1/runtime"
	"github.com/teamlock-io/teamlock/v1/team"
)

func mustTeam(t *testing.T, id string, rank, size int) team.Team {
	t.Helper()
	tm, err := team.New(id, rank, size)
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	return tm
}

// createAll runs the collective CreateLock on every rank and returns the
// per-rank handles (all identical).
func createAll(t *testing.T, c *Cluster, id string, size int) ([]*Service, []runtime.Handle) {
	t.Helper()
	ctx := context.Background()
	svcs := make([]*Service, size)
	handles := make([]runtime.Handle, size)
	var g errgroup.Group
	for r := 0; r < size; r++ {
		r := r
		svcs[r] = c.Service(r)
		g.Go(func() error {
			h, err := svcs[r].CreateLock(ctx, mustTeam(t, id, r, size))
			handles[r] = h
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("create_lock: %v", err)
	}
	for r := 1; r < size; r++ {
		if handles[r] != handles[0] {
			t.Fatalf("ranks disagree on handle: %v vs %v", handles[r], handles[0])
		}
	}
	return svcs, handles
}

func destroyAll(t *testing.T, svcs []*Service, id string, h runtime.Handle) {
	t.Helper()
	ctx := context.Background()
	var g errgroup.Group
	for r := range svcs {
		r := r
		g.Go(func() error {
			return svcs[r].DestroyLock(ctx, mustTeam(t, id, r, len(svcs)), h)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("destroy_lock: %v", err)
	}
}

func TestSingleRankLifecycle(t *testing.T) {
	c := NewCluster()
	ctx := context.Background()
	svc := c.Service(0)
	tm := team.Solo()

	h, err := svc.CreateLock(ctx, tm)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Acquire(ctx, h); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := svc.Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.DestroyLock(ctx, tm, h); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := svc.Acquire(ctx, h); err == nil {
		t.Fatal("expected error acquiring destroyed lock")
	}
}

func TestTwoRankTryAcquireScenario(t *testing.T) {
	c := NewCluster()
	ctx := context.Background()
	svcs, handles := createAll(t, c, "pair", 2)
	a, b := svcs[0], svcs[1]
	h := handles[0]

	if err := a.Acquire(ctx, h); err != nil {
		t.Fatalf("A acquire: %v", err)
	}
	if ok, err := b.TryAcquire(ctx, h); err != nil || ok {
		t.Fatalf("B try_acquire while held: ok=%v err=%v", ok, err)
	}
	if err := a.Release(ctx, h); err != nil {
		t.Fatalf("A release: %v", err)
	}
	if ok, err := b.TryAcquire(ctx, h); err != nil || !ok {
		t.Fatalf("B try_acquire after release: ok=%v err=%v", ok, err)
	}
	if err := b.Release(ctx, h); err != nil {
		t.Fatalf("B release: %v", err)
	}
	destroyAll(t, svcs, "pair", h)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	c := NewCluster()
	ctx := context.Background()
	svcs, handles := createAll(t, c, "blk", 2)
	h := handles[0]

	if err := svcs[0].Acquire(ctx, h); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	got := make(chan error, 1)
	go func() { got <- svcs[1].Acquire(ctx, h) }()

	select {
	case err := <-got:
		t.Fatalf("acquire returned while lock held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if err := svcs[0].Release(ctx, h); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("second acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after release")
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	const ranks = 8
	const iters = 100
	c := NewCluster()
	ctx := context.Background()
	svcs, handles := createAll(t, c, "stress", ranks)
	h := handles[0]

	counter := 0
	var g errgroup.Group
	for r := 0; r < ranks; r++ {
		svc := svcs[r]
		g.Go(func() error {
			for i := 0; i < iters; i++ {
				if err := svc.Acquire(ctx, h); err != nil {
					return err
				}
				counter++
				if err := svc.Release(ctx, h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("contention: %v", err)
	}
	if counter != ranks*iters {
		t.Fatalf("lost updates: counter=%d want %d", counter, ranks*iters)
	}
}

func TestReleaseWithoutOwnership(t *testing.T) {
	c := NewCluster()
	ctx := context.Background()
	svcs, handles := createAll(t, c, "own", 2)
	h := handles[0]

	if err := svcs[1].Release(ctx, h); err == nil {
		t.Fatal("expected error releasing unheld lock")
	}
	if err := svcs[0].Acquire(ctx, h); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := svcs[1].Release(ctx, h)
	var serr *runtime.StatusError
	if !errors.As(err, &serr) || serr.Status != runtime.StatusInvalidHandle {
		t.Fatalf("expected invalid-handle status, got %v", err)
	}
}

func TestMissingMemberBlocksUntilCancel(t *testing.T) {
	c := NewCluster()
	svc := c.Service(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Rank 1 never arrives.
	_, err := svc.CreateLock(ctx, mustTeam(t, "gap", 0, 2))
	var serr *runtime.StatusError
	if !errors.As(err, &serr) || serr.Status != runtime.StatusCanceled {
		t.Fatalf("expected canceled status, got %v", err)
	}
}

func TestCollectiveMismatchDetected(t *testing.T) {
	c := NewCluster()
	ctx := context.Background()
	svcs, handles := createAll(t, c, "mm", 2)
	h := handles[0]

	// Rank 0 opens a second lock while rank 1 destroys the first: both
	// target collective slot 1 with different operations.
	res0 := make(chan error, 1)
	res1 := make(chan error, 1)
	go func() {
		_, err := svcs[0].CreateLock(ctx, mustTeam(t, "mm", 0, 2))
		res0 <- err
	}()
	go func() {
		res1 <- svcs[1].DestroyLock(ctx, mustTeam(t, "mm", 1, 2), h)
	}()

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-res0:
			errs = append(errs, err)
		case err := <-res1:
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatal("mismatched collective did not resolve")
		}
	}
	mismatches := 0
	for _, err := range errs {
		if errors.Is(err, tlerrors.ErrMismatch) {
			mismatches++
		}
	}
	if mismatches == 0 {
		t.Fatalf("expected at least one mismatch error, got %v", errs)
	}
}
