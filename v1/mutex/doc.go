// Package mutex provides mutual exclusion across the members of a team:
// all members share one logical lock, and at most one of them holds it
// at any instant.
//
// Open and Close are collective: every team member must call them at
// the same logical point relative to other collective operations on the
// team, and both block until all members arrive. Lock, TryLock and
// Unlock are local calls that delegate the actual cross-process
// coordination to the team's runtime.LockService.
//
// The lock is not re-entrant: a member that holds it and calls Lock
// again deadlocks. A Mutex instance is not safe for concurrent use by
// multiple goroutines of one process; keep it on one goroutine or add
// your own affinity. Ordering among members competing for the lock is
// whatever the runtime provides and must not be assumed FIFO.
//
// Backend failures have no recovery path: one member limping on while
// the rest of the team assumes a different lock state would corrupt the
// shared data the lock guards. Lock, TryLock and Unlock therefore
// escalate any runtime failure through the fail handler, which by
// default prints the failed operation and terminates the process.
// TryLock's "not acquired" is the only non-fatal negative outcome.
package mutex
