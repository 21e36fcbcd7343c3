// Package syncbus carries the wakeup events that make blocking lock
// acquisition efficient across processes: a release publishes to the
// lock's unlock key and parked acquirers re-race instead of polling.
// Backends for Redis, NATS and Kafka live in subpackages; every team
// member must attach to the same backend for events to reach it.
package syncbus
