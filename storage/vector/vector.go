// Package vector implements the storage.Adapter contract over
// liliang-cn/sqvect, an embedded SQLite-backed vector store, grounded
// on that repo's pkg/sqvect/pkg/core API (core.SQLiteStore's
// Upsert/UpsertBatch/Search/Delete operating on core.Embedding /
// core.ScoredEmbedding). This backs L3's similarity-search half of the
// dual index; Scroll uses SearchOptions{TopK: large, Threshold: -1} so
// pure metadata filtering never depends on distance ranking.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liliang-cn/sqvect/v2/pkg/core"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

const collectionName = "episodes"

// Adapter is the Vector storage.Adapter implementation.
type Adapter struct {
	dbPath    string
	dimension int
	store     *core.SQLiteStore
	counters  storage.Counters
}

// New constructs a Vector adapter backed by an on-disk SQLite file at
// dbPath with a fixed embedding dimension, per SPEC_FULL §9's decision
// that the embedding dimension is chosen once at construction and held
// constant for the collection's lifetime.
func New(dbPath string, dimension int) (*Adapter, error) {
	if dimension <= 0 {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "vector: dimension must be positive")
	}
	return &Adapter{dbPath: dbPath, dimension: dimension}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	store, err := core.New(a.dbPath, a.dimension)
	if err != nil {
		return memerr.Wrap(memerr.ErrConnection, "vector: open sqvect store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		return memerr.Wrap(memerr.ErrConnection, "vector: init sqvect store: %v", err)
	}
	a.store = store
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// recordToEmbedding maps a generic storage.Record (holding "id",
// "vector" ([]float64), "content", and arbitrary scalar metadata) to
// sqvect's core.Embedding. Non-scalar metadata fields are JSON-encoded
// into the string-only metadata map sqvect supports.
func recordToEmbedding(rec storage.Record) (*core.Embedding, error) {
	id, _ := rec["id"].(string)
	content, _ := rec["content"].(string)

	vecRaw, ok := rec["vector"].([]float64)
	if !ok {
		return nil, memerr.Wrap(memerr.ErrDataValidation, "vector: record missing float64 vector field")
	}
	vector := make([]float32, len(vecRaw))
	for i, v := range vecRaw {
		vector[i] = float32(v)
	}

	metadata := make(map[string]string)
	for k, v := range rec {
		if k == "id" || k == "content" || k == "vector" {
			continue
		}
		switch val := v.(type) {
		case string:
			metadata[k] = val
		default:
			b, err := json.Marshal(val)
			if err == nil {
				metadata[k] = string(b)
			}
		}
	}

	return &core.Embedding{
		ID:         id,
		Collection: collectionName,
		Vector:     vector,
		Content:    content,
		Metadata:   metadata,
	}, nil
}

func scoredToRecord(se core.ScoredEmbedding) storage.Record {
	rec := storage.Record{
		"id":      se.ID,
		"content": se.Content,
		"score":   se.Score,
	}
	vec := make([]float64, len(se.Vector))
	for i, v := range se.Vector {
		vec[i] = float64(v)
	}
	rec["vector"] = vec
	for k, v := range se.Metadata {
		rec[k] = v
	}
	return rec
}

func (a *Adapter) Store(ctx context.Context, rec storage.Record) (string, error) {
	start := time.Now()
	emb, err := recordToEmbedding(rec)
	if err != nil {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", err
	}

	if err := a.store.Upsert(ctx, emb); err != nil {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", memerr.Wrap(memerr.ErrTransientBackend, "vector: upsert: %v", err)
	}
	a.counters.RecordOp("store", false, time.Since(start).Nanoseconds())
	return emb.ID, nil
}

func (a *Adapter) StoreBatch(ctx context.Context, items []storage.Record) ([]storage.StoreBatchResult, error) {
	start := time.Now()
	embs := make([]*core.Embedding, 0, len(items))
	results := make([]storage.StoreBatchResult, len(items))

	for i, item := range items {
		emb, err := recordToEmbedding(item)
		if err != nil {
			results[i] = storage.StoreBatchResult{Err: err}
			continue
		}
		embs = append(embs, emb)
		results[i] = storage.StoreBatchResult{ID: emb.ID}
	}

	if err := a.store.UpsertBatch(ctx, embs); err != nil {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "vector: upsert_batch: %v", err)
	}
	a.counters.RecordOp("store", false, time.Since(start).Nanoseconds())
	return results, nil
}

func (a *Adapter) Retrieve(ctx context.Context, id string) (storage.Record, error) {
	start := time.Now()
	emb, err := a.store.GetByID(ctx, id)
	if err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "vector: get %s: %v", id, err)
	}
	if emb == nil {
		a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
		return nil, fmt.Errorf("vector: id %s: %w", id, memerr.ErrNotFound)
	}
	a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
	return scoredToRecord(core.ScoredEmbedding{Embedding: *emb}), nil
}

func (a *Adapter) RetrieveBatch(ctx context.Context, ids []string) ([]storage.Record, error) {
	out := make([]storage.Record, len(ids))
	for i, id := range ids {
		rec, err := a.Retrieve(ctx, id)
		if err != nil {
			out[i] = nil
			continue
		}
		out[i] = rec
	}
	return out, nil
}

// Search performs similarity search: vector similarity first, then
// metadata filter, per the L3 contract.
func (a *Adapter) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	if len(q.VectorQuery) == 0 {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "vector: search requires a query vector; use Scroll for filter-only retrieval")
	}

	query := make([]float32, len(q.VectorQuery))
	for i, v := range q.VectorQuery {
		query[i] = float32(v)
	}

	topK := q.Limit
	if topK <= 0 {
		topK = 10
	}

	opts := core.SearchOptions{Collection: collectionName, TopK: topK, Filter: stringFilter(q.Filters)}
	results, err := a.store.Search(ctx, query, opts)
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "vector: search: %v", err)
	}

	out := make([]storage.Record, 0, len(results))
	for _, r := range results {
		out = append(out, scoredToRecord(r))
	}
	a.counters.RecordOp("search", false, time.Since(start).Nanoseconds())
	return out, nil
}

// Scroll performs pure metadata-filtered enumeration with no similarity
// ranking, satisfying the spec's requirement that filter-only retrieval
// not depend on an arbitrary query vector.
func (a *Adapter) Scroll(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	limit := q.Limit
	if limit <= 0 {
		limit = 10000
	}

	zero := make([]float32, a.dimension)
	opts := core.SearchOptions{Collection: collectionName, TopK: limit, Filter: stringFilter(q.Filters), Threshold: -1}
	results, err := a.store.Search(ctx, zero, opts)
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "vector: scroll: %v", err)
	}

	out := make([]storage.Record, 0, len(results))
	for _, r := range results {
		out = append(out, scoredToRecord(r))
	}
	a.counters.RecordOp("search", false, time.Since(start).Nanoseconds())
	return out, nil
}

func stringFilter(filters map[string]any) map[string]string {
	out := make(map[string]string, len(filters))
	for k, v := range filters {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	err := a.store.Delete(ctx, id)
	failed := err != nil
	a.counters.RecordOp("delete", failed, time.Since(start).Nanoseconds())
	if failed {
		return false, memerr.Wrap(memerr.ErrTransientBackend, "vector: delete %s: %v", id, err)
	}
	return true, nil
}

func (a *Adapter) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	start := time.Now()
	if err := a.store.DeleteBatch(ctx, ids); err != nil {
		a.counters.RecordOp("delete", true, time.Since(start).Nanoseconds())
		return 0, memerr.Wrap(memerr.ErrTransientBackend, "vector: delete_batch: %v", err)
	}
	a.counters.RecordOp("delete", false, time.Since(start).Nanoseconds())
	return len(ids), nil
}

func (a *Adapter) HealthCheck(ctx context.Context) storage.HealthResult {
	start := time.Now()
	stats, err := a.store.Stats(ctx)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := storage.StatusForLatency(latencyMs)
	if err != nil {
		status = storage.StatusUnhealthy
	}

	backendSpecific := a.counters.Snapshot()
	backendSpecific["vector_count"] = stats.Count
	backendSpecific["dimensions"] = stats.Dimensions

	return storage.HealthResult{
		Status:          status,
		LatencyMs:       latencyMs,
		BackendSpecific: backendSpecific,
	}
}
