// Package kv implements the storage.Adapter contract over Redis,
// grounded on the teacher's redisclient.Client (redis.ParseURL + Ping)
// generalized from a thin liveness wrapper into the full adapter
// contract, plus the L1 tier's atomic Lua operations.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

// Adapter is the KV storage.Adapter implementation. Records are stored
// as JSON blobs under a "kv:record:<id>" key, with a best-effort
// "kv:index" set tracking known ids so Search/Scroll can enumerate
// without a full KEYS scan in the common case.
type Adapter struct {
	client   *redis.Client
	timeout  time.Duration
	counters storage.Counters
}

const recordKeyPrefix = "kv:record:"
const indexKey = "kv:index"

// New constructs a KV adapter from a parsed redis URL. Connect performs
// the liveness check; New itself never touches the network.
func New(redisURL string, timeout time.Duration) (*Adapter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "kv: invalid redis url: %v", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{client: redis.NewClient(opt), timeout: timeout}, nil
}

// Client exposes the underlying go-redis client for components (the L1
// tier's atomic scripts, the session lock, the telemetry stream) that
// need direct Redis access beyond the generic Adapter contract.
func (a *Adapter) Client() *redis.Client {
	return a.client
}

func (a *Adapter) Connect(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.client.Ping(pingCtx).Err(); err != nil {
		return memerr.Wrap(memerr.ErrConnection, "kv: ping failed: %v", err)
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.client.Close()
}

func (a *Adapter) Store(ctx context.Context, rec storage.Record) (string, error) {
	start := time.Now()
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", memerr.Wrap(memerr.ErrDataValidation, "kv: marshal record: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pipe := a.client.TxPipeline()
	pipe.Set(opCtx, recordKeyPrefix+id, payload, 0)
	pipe.SAdd(opCtx, indexKey, id)
	_, err = pipe.Exec(opCtx)

	failed := err != nil
	a.counters.RecordOp("store", failed, time.Since(start).Nanoseconds())
	if failed {
		return "", memerr.Wrap(memerr.ErrTransientBackend, "kv: store %s: %v", id, err)
	}
	return id, nil
}

func (a *Adapter) StoreBatch(ctx context.Context, items []storage.Record) ([]storage.StoreBatchResult, error) {
	results := make([]storage.StoreBatchResult, len(items))
	for i, item := range items {
		id, err := a.Store(ctx, item)
		results[i] = storage.StoreBatchResult{ID: id, Err: err}
	}
	return results, nil
}

func (a *Adapter) Retrieve(ctx context.Context, id string) (storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.client.Get(opCtx, recordKeyPrefix+id).Bytes()
	if err == redis.Nil {
		a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
		return nil, fmt.Errorf("kv: id %s: %w", id, memerr.ErrNotFound)
	}
	if err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "kv: retrieve %s: %v", id, err)
	}

	var rec storage.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "kv: unmarshal %s: %v", id, err)
	}
	a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
	return rec, nil
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

// Search performs a best-effort member-id enumeration via the index set
// followed by per-id filter matching in-process. KV has no native query
// language, so this satisfies the contract without pretending to be a
// query engine — callers needing rich filtering should use Relational
// or FullText instead.
func (a *Adapter) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	return a.Scroll(ctx, q)
}

func (a *Adapter) Scroll(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ids, err := a.client.SMembers(opCtx, indexKey).Result()
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "kv: scroll index: %v", err)
	}

	var out []storage.Record
	for _, id := range ids {
		rec, err := a.Retrieve(ctx, id)
		if err != nil {
			continue
		}
		if matchesFilters(rec, q.Filters) {
			out = append(out, rec)
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	a.counters.RecordOp("search", false, time.Since(start).Nanoseconds())
	return out, nil
}

func matchesFilters(rec storage.Record, filters map[string]any) bool {
	for k, v := range filters {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pipe := a.client.TxPipeline()
	delCmd := pipe.Del(opCtx, recordKeyPrefix+id)
	pipe.SRem(opCtx, indexKey, id)
	_, err := pipe.Exec(opCtx)

	failed := err != nil
	a.counters.RecordOp("delete", failed, time.Since(start).Nanoseconds())
	if failed {
		return false, memerr.Wrap(memerr.ErrTransientBackend, "kv: delete %s: %v", id, err)
	}
	return delCmd.Val() > 0, nil
}

func (a *Adapter) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		ok, err := a.Delete(ctx, id)
		if err != nil {
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// StoreWithTTL stores rec under its own id key with an expiration, and
// skips the index-set membership Store maintains — callers using this
// are keying a cache entry they'll Retrieve directly by id, not
// enumerate via Search/Scroll.
func (a *Adapter) StoreWithTTL(ctx context.Context, rec storage.Record, ttl time.Duration) (string, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", memerr.Wrap(memerr.ErrDataValidation, "kv: marshal record: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.client.Set(opCtx, recordKeyPrefix+id, payload, ttl).Err(); err != nil {
		return "", memerr.Wrap(memerr.ErrTransientBackend, "kv: store_with_ttl %s: %v", id, err)
	}
	return id, nil
}

// ListWindow returns every element currently stored in the list at key,
// in insertion order — the read side of AppendWithWindowing, used by L1
// to rebuild a session's turn window from KV.
func (a *Adapter) ListWindow(ctx context.Context, key string) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	vals, err := a.client.LRange(opCtx, key, 0, -1).Result()
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "kv: list_window %s: %v", key, err)
	}
	return vals, nil
}

// Enqueue appends value to the unbounded list at key — the fact-buffer
// queue AtomicPromotion dequeues from, distinct from the windowed L1
// turn list since the buffer must retain every unpromoted turn id
// until drained, not just the most recent window.
func (a *Adapter) Enqueue(ctx context.Context, key, value string) error {
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.client.RPush(opCtx, key, value).Err(); err != nil {
		return memerr.Wrap(memerr.ErrTransientBackend, "kv: enqueue %s: %v", key, err)
	}
	return nil
}

// AddToSet adds members to the set at key — used to mark L2 facts as
// consolidated once their episode has been written, so a rerun of
// Consolidation can tell which facts are still eligible.
func (a *Adapter) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := a.client.SAdd(opCtx, key, args...).Err(); err != nil {
		return memerr.Wrap(memerr.ErrTransientBackend, "kv: add_to_set %s: %v", key, err)
	}
	return nil
}

// SetMembers returns every member currently in the set at key.
func (a *Adapter) SetMembers(ctx context.Context, key string) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	members, err := a.client.SMembers(opCtx, key).Result()
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "kv: set_members %s: %v", key, err)
	}
	return members, nil
}

// RemoveFromSet removes members from the set at key — used to clear an
// atomic_promotion in-flight marker set once its batch has been
// processed (successfully or not).
func (a *Adapter) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := a.client.SRem(opCtx, key, args...).Err(); err != nil {
		return memerr.Wrap(memerr.ErrTransientBackend, "kv: remove_from_set %s: %v", key, err)
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) storage.HealthResult {
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.client.Ping(pingCtx).Err()
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := storage.StatusForLatency(latencyMs)
	if err != nil {
		status = storage.StatusUnhealthy
	}

	backendSpecific := a.counters.Snapshot()
	if keys, err := a.client.DBSize(ctx).Result(); err == nil {
		backendSpecific["keys"] = keys
	}

	return storage.HealthResult{
		Status:          status,
		LatencyMs:       latencyMs,
		BackendSpecific: backendSpecific,
	}
}
