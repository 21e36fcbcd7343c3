package team

import (
	"fmt"
	"sync/atomic"
)

// Team identifies one process's membership in a named group of
// cooperating processes. The zero value is invalid.
type Team struct {
	id   string
	rank int
	size int
}

// New returns the Team with the given id as seen by rank. It fails when
// rank does not fall inside the team.
func New(id string, rank, size int) (Team, error) {
	if id == "" {
		return Team{}, fmt.Errorf("team: empty id")
	}
	if size < 1 {
		return Team{}, fmt.Errorf("team %q: size %d < 1", id, size)
	}
	if rank < 0 || rank >= size {
		return Team{}, fmt.Errorf("team %q: rank %d outside [0,%d)", id, rank, size)
	}
	return Team{id: id, rank: rank, size: size}, nil
}

// Solo returns the single-member team a standalone process belongs to.
func Solo() Team {
	return Team{id: "all", rank: 0, size: 1}
}

// ID returns the stable team identifier shared by all members.
func (t Team) ID() string { return t.id }

// Rank returns this process's index within the team.
func (t Team) Rank() int { return t.rank }

// Size returns the number of team members.
func (t Team) Size() int { return t.size }

// IsZero reports whether t is the invalid zero value.
func (t Team) IsZero() bool { return t.id == "" }

func (t Team) String() string {
	return fmt.Sprintf("%s[%d/%d]", t.id, t.rank, t.size)
}

var defaultTeam atomic.Value // Team

// SetDefault installs the process-wide default team. Call it once during
// startup, before any lock scoped to All is opened.
func SetDefault(t Team) {
	defaultTeam.Store(t)
}

// All returns the default team installed by SetDefault. Until then it is
// the solo team, so standalone programs need no setup.
func All() Team {
	if t, ok := defaultTeam.Load().(Team); ok {
		return t
	}
	return Solo()
}
