// Package storage defines the uniform adapter contract every backend
// (KV, Relational, Vector, Graph, FullText) implements, plus the shared
// health-status and counter types adapters report through HealthCheck —
// grounded on the teacher's provider.Provider interface (one contract,
// many concrete connectors) and provider.PoolMetrics (sync.Map-backed
// atomic counters, snapshotted on demand).
package storage

import "context"

// Status classifies an adapter's current health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// HealthResult is the uniform shape every adapter's HealthCheck returns.
// Thresholds per spec §4.1: healthy < 100ms, degraded 100-500ms,
// unhealthy > 500ms or error.
type HealthResult struct {
	Status          Status
	LatencyMs       float64
	BackendSpecific map[string]any
}

// StatusForLatency classifies a latency measurement into a Status using
// the spec's fixed thresholds. Adapters call this after a successful
// ping; an outright connection error should report StatusUnhealthy
// directly rather than through this helper.
func StatusForLatency(latencyMs float64) Status {
	switch {
	case latencyMs < 100:
		return StatusHealthy
	case latencyMs <= 500:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Record is the generic backend-agnostic payload Store/Retrieve/Search
// operate over. Concrete adapters marshal to/from their own typed
// models (models.Fact, models.Episode, ...); the adapter layer itself
// stays shape-agnostic the way the teacher's ChatRequest/ChatResponse
// pair is provider-agnostic while each connector does its own mapping.
type Record map[string]any

// Query is the generic backend-specific query payload passed to Search
// and Scroll. Each adapter interprets the fields it understands and
// ignores the rest.
type Query struct {
	// Text is a free-text query for FullText/Relational full-text search.
	Text string
	// VectorQuery is the embedding to search against for Vector.
	VectorQuery []float64
	// GraphTemplate is a registered Cypher template name for Graph —
	// free-form query strings from callers are forbidden per spec §4.2.
	GraphTemplate string
	// Filters is a structured key/value filter applied by every backend
	// that supports filtering (KV and Relational match it in-process
	// after fetching).
	Filters map[string]any
	// Limit caps the result count; 0 means adapter-default.
	Limit int
}

// Adapter is the operation set every storage backend implements
// identically, per spec §4.1. All methods may return errors from the
// memerr taxonomy.
type Adapter interface {
	// Connect acquires backend connection resources. Disconnect
	// guarantees release on every exit path.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Store inserts one record, generating an id if the record doesn't
	// carry one, and returns the stored id.
	Store(ctx context.Context, rec Record) (string, error)

	// StoreBatch inserts items transactionally where the backend
	// supports it, otherwise sequentially with per-item failure
	// isolation — the returned slice has one id-or-error pairing per
	// input item via StoreBatchResult.
	StoreBatch(ctx context.Context, items []Record) ([]StoreBatchResult, error)

	// Retrieve fetches one record by id. Returns memerr.ErrNotFound
	// (wrapped) rather than a zero value when absent.
	Retrieve(ctx context.Context, id string) (Record, error)

	// RetrieveBatch fetches many records, preserving input order; a
	// missing id yields a nil entry at that position rather than
	// shortening the slice.
	RetrieveBatch(ctx context.Context, ids []string) ([]Record, error)

	// Search performs the backend's native query semantics: similarity
	// search for Vector, template execution for Graph, keyword+filter
	// for FullText, index-set enumeration with filter matching for KV,
	// filtered full-text select for Relational.
	Search(ctx context.Context, q Query) ([]Record, error)

	// Scroll performs pure filter-based enumeration with no similarity
	// ranking — required on Vector so filter-only retrieval doesn't
	// miss matches that a top-N similarity search would drop.
	Scroll(ctx context.Context, q Query) ([]Record, error)

	Delete(ctx context.Context, id string) (bool, error)
	DeleteBatch(ctx context.Context, ids []string) (int, error)

	HealthCheck(ctx context.Context) HealthResult
}

// StoreBatchResult pairs one StoreBatch input item with its outcome.
type StoreBatchResult struct {
	ID  string
	Err error
}
