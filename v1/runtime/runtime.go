package runtime

import (
	"context"
	"fmt"

	"github.com/teamlock-io/teamlock/v1/team"
)

// Status classifies the outcome of a lock-service operation. Busy is not
// an error: TryAcquire reports it through its boolean, never through a
// StatusError.
type Status int

const (
	StatusOK Status = iota
	StatusBusy
	StatusInvalidHandle
	StatusMismatch
	StatusBackend
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBusy:
		return "busy"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusMismatch:
		return "collective mismatch"
	case StatusBackend:
		return "backend failure"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusError is the explicit status a lock service returns for a failed
// operation.
type StatusError struct {
	Op     string
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Errf builds a StatusError for op with the given status and cause.
func Errf(op string, status Status, err error) *StatusError {
	return &StatusError{Op: op, Status: status, Err: err}
}

// Handle is the opaque token identifying one distributed lock instance.
// A handle is created by a successful collective CreateLock and owned by
// exactly one live mutex per process. The zero value is invalid.
type Handle struct {
	team string
	seq  uint64
}

// NewHandle is used by LockService implementations to mint handles; the
// sequence number is the team-relative collective slot that created the
// lock.
func NewHandle(teamID string, seq uint64) Handle {
	return Handle{team: teamID, seq: seq}
}

// TeamID returns the id of the team the handle is scoped to.
func (h Handle) TeamID() string { return h.team }

// Seq returns the collective slot that created the handle.
func (h Handle) Seq() uint64 { return h.seq }

// IsZero reports whether h is the invalid zero value.
func (h Handle) IsZero() bool { return h.team == "" }

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.team, h.seq)
}

// Key returns the stable resource name for the handle, shared by every
// backend that stores or publishes state for it.
func (h Handle) Key() string {
	return fmt.Sprintf("teamlock:%s:%d", h.team, h.seq)
}

// LockService is the five-operation contract a distributed runtime
// implements for the mutex. CreateLock and DestroyLock are collective:
// every member of the team must call them at the same logical point
// relative to other collectives on that team, and both block until all
// members arrive. Acquire, TryAcquire and Release are local calls.
// Ordering among ranks competing for the same lock is unspecified;
// callers must not assume FIFO fairness.
type LockService interface {
	// CreateLock allocates distributed lock state scoped to t and
	// returns its handle. Collective.
	CreateLock(ctx context.Context, t team.Team) (Handle, error)

	// DestroyLock frees the lock state behind h. Collective. The caller
	// is responsible for ensuring no member still holds the lock.
	DestroyLock(ctx context.Context, t team.Team, h Handle) error

	// Acquire blocks until this process holds the lock.
	Acquire(ctx context.Context, h Handle) error

	// TryAcquire attempts acquisition without blocking. (false, nil)
	// means the lock is held elsewhere; state is unchanged.
	TryAcquire(ctx context.Context, h Handle) (bool, error)

	// Release gives up ownership previously granted to this process.
	Release(ctx context.Context, h Handle) error
}
