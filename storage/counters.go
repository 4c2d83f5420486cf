package storage

import "sync/atomic"

// Counters tracks per-operation success/error/latency totals for one
// adapter instance, the teacher's provider.PoolMetrics idiom adapted
// from per-provider sync.Map entries to per-adapter plain atomic int64
// fields (one adapter instance already scopes one backend, so the extra
// map layer the teacher needs for "metrics per provider name" isn't
// needed here).
type Counters struct {
	stores    int64
	retrieves int64
	searches  int64
	deletes   int64
	errors    int64
	latencyNs int64
	ops       int64
}

// RecordOp adds one observation: whether it failed, and how long it
// took. Called by every adapter method after its backend call returns,
// the teacher's metricsRoundTripper wrap-call-then-record pattern.
func (c *Counters) RecordOp(kind string, failed bool, latencyNs int64) {
	switch kind {
	case "store":
		atomic.AddInt64(&c.stores, 1)
	case "retrieve":
		atomic.AddInt64(&c.retrieves, 1)
	case "search":
		atomic.AddInt64(&c.searches, 1)
	case "delete":
		atomic.AddInt64(&c.deletes, 1)
	}
	if failed {
		atomic.AddInt64(&c.errors, 1)
	}
	atomic.AddInt64(&c.latencyNs, latencyNs)
	atomic.AddInt64(&c.ops, 1)
}

// Snapshot returns the current counter values as a map suitable for
// embedding in HealthResult.BackendSpecific.
func (c *Counters) Snapshot() map[string]any {
	ops := atomic.LoadInt64(&c.ops)
	var avgLatencyMs float64
	if ops > 0 {
		avgLatencyMs = float64(atomic.LoadInt64(&c.latencyNs)) / float64(ops) / 1e6
	}
	return map[string]any{
		"stores":          atomic.LoadInt64(&c.stores),
		"retrieves":       atomic.LoadInt64(&c.retrieves),
		"searches":        atomic.LoadInt64(&c.searches),
		"deletes":         atomic.LoadInt64(&c.deletes),
		"errors":          atomic.LoadInt64(&c.errors),
		"avg_latency_ms":  avgLatencyMs,
	}
}
