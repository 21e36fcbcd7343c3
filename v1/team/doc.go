// Package team describes the group of cooperating processes that share a
// distributed lock. A Team is a plain value carrying the stable team id,
// this process's rank within the team and the team size; the membership
// itself is formed by the surrounding runtime, not here. Every rank of a
// team must describe the same membership for collective operations scoped
// to it to line up.
package team
