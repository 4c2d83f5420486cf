// Package namespace builds the Redis key space shared by the KV adapter,
// the Promotion engine, and the Wake-Up Sweep: hash-tagged per-session
// keys so a session's active context, fact buffer, and lock always land
// on the same cluster slot, plus a session lock (AcquireLock) held by a
// renewal goroutine. None of the lifecycle engines in this module
// acquires that lock.
package namespace

import "fmt"

// Session returns the hash-tagged key prefix for sessionID. Every key a
// session owns embeds this tag so Redis Cluster routes them to one slot,
// the same convention the teacher's redisclient keys follow for
// per-tenant isolation.
func Session(sessionID string) string {
	return fmt.Sprintf("{session:%s}", sessionID)
}

// ActiveContextKey is the L1 turn window for sessionID.
func ActiveContextKey(sessionID string) string {
	return Session(sessionID) + ":active_context"
}

// FactBufferKey is the pending-fact buffer a session's Promotion engine
// run drains from.
func FactBufferKey(sessionID string) string {
	return Session(sessionID) + ":fact_buffer"
}

// WorkspaceKey is the L2 working-memory workspace document for sessionID.
func WorkspaceKey(sessionID string) string {
	return Session(sessionID) + ":workspace"
}

// LockKey is the distributed lock guarding concurrent lifecycle runs for
// sessionID.
func LockKey(sessionID string) string {
	return Session(sessionID) + ":lock"
}

// SweepSetKey is the global (untagged) set of session IDs with dirty L1
// state, scanned by the Wake-Up Sweep after a restart.
func SweepSetKey() string {
	return "memory:dirty_sessions"
}

// TelemetryStreamKey is the Redis Streams key telemetry events are
// appended to. It carries its own constant hash tag, distinct from every
// session tag.
func TelemetryStreamKey() string {
	return "{lifecycle}:events"
}

// DistillationCacheKey namespaces a cached synthesis result by the key
// string it was computed for (Distillation passes the session id and its
// source episode ids).
func DistillationCacheKey(queryHash string) string {
	return fmt.Sprintf("memory:distillation_cache:{%s}", queryHash)
}
