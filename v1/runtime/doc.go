// Package runtime defines the contract between the team mutex and the
// distributed runtime that actually coordinates cross-process lock
// state. Implementations live in subpackages: local hosts every rank of
// a team inside one process, redis coordinates separate processes
// through a shared Redis instance.
package runtime
