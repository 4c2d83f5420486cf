// Package relational implements the storage.Adapter contract over
// Postgres via pgx/v5's pool, with schema managed by golang-migrate —
// the same driver pair codeready-toolchain-tarsy uses for its database
// layer, here wired directly through pgxpool instead of through an ORM
// since the adapter's Record type is already a generic map, not a typed
// entity graph.
package relational

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

// Adapter is the Relational storage.Adapter implementation. One Adapter
// instance serves one logical table (e.g. "active_context" or
// "working_memory"), multiplexed through the generic records schema.
type Adapter struct {
	pool      *pgxpool.Pool
	dsn       string
	tableName string
	timeout   time.Duration
	counters  storage.Counters
}

// New constructs a Relational adapter bound to tableName. Connect opens
// the pool and applies pending migrations.
func New(dsn, tableName string, timeout time.Duration) (*Adapter, error) {
	if tableName == "" {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "relational: table name required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{dsn: dsn, tableName: tableName, timeout: timeout}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	if err := runMigrations(a.dsn); err != nil {
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pool, err := pgxpool.New(connCtx, a.dsn)
	if err != nil {
		return memerr.Wrap(memerr.ErrConnection, "relational: open pool: %v", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return memerr.Wrap(memerr.ErrConnection, "relational: ping: %v", err)
	}
	a.pool = pool
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
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
		return "", memerr.Wrap(memerr.ErrDataValidation, "relational: marshal record: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err = a.pool.Exec(opCtx, `
		INSERT INTO records (table_name, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_name, id) DO UPDATE SET data = EXCLUDED.data
	`, a.tableName, id, payload)

	failed := err != nil
	a.counters.RecordOp("store", failed, time.Since(start).Nanoseconds())
	if failed {
		return "", memerr.Wrap(memerr.ErrTransientBackend, "relational: store %s: %v", id, err)
	}
	return id, nil
}

func (a *Adapter) StoreBatch(ctx context.Context, items []storage.Record) ([]storage.StoreBatchResult, error) {
	results := make([]storage.StoreBatchResult, len(items))

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	tx, err := a.pool.Begin(opCtx)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "relational: begin batch tx: %v", err)
	}
	defer tx.Rollback(opCtx)

	for i, item := range items {
		id, _ := item["id"].(string)
		if id == "" {
			id = uuid.NewString()
			item["id"] = id
		}
		payload, err := json.Marshal(item)
		if err != nil {
			results[i] = storage.StoreBatchResult{Err: memerr.Wrap(memerr.ErrDataValidation, "relational: marshal item %d: %v", i, err)}
			continue
		}
		_, err = tx.Exec(opCtx, `
			INSERT INTO records (table_name, id, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (table_name, id) DO UPDATE SET data = EXCLUDED.data
		`, a.tableName, id, payload)
		if err != nil {
			results[i] = storage.StoreBatchResult{Err: memerr.Wrap(memerr.ErrTransientBackend, "relational: store item %d: %v", i, err)}
			continue
		}
		results[i] = storage.StoreBatchResult{ID: id}
	}

	if err := tx.Commit(opCtx); err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "relational: commit batch: %v", err)
	}
	return results, nil
}

func (a *Adapter) Retrieve(ctx context.Context, id string) (storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var raw []byte
	err := a.pool.QueryRow(opCtx, `SELECT data FROM records WHERE table_name = $1 AND id = $2`, a.tableName, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrNotFound, "relational: id %s", id)
	}
	if err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "relational: retrieve %s: %v", id, err)
	}

	var rec storage.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "relational: unmarshal %s: %v", id, err)
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

// Search performs the L2 full-text search: a 'simple' (non-stemming)
// to_tsquery match on content, optionally narrowed by JSONB filters.
func (a *Adapter) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if q.Text != "" {
		rows, err = a.pool.Query(opCtx, `
			SELECT data FROM records
			WHERE table_name = $1 AND content_tsv @@ plainto_tsquery('simple', $2)
			ORDER BY ts_rank(content_tsv, plainto_tsquery('simple', $2)) DESC
			LIMIT $3
		`, a.tableName, q.Text, limit)
	} else {
		rows, err = a.pool.Query(opCtx, `
			SELECT data FROM records WHERE table_name = $1 LIMIT $2
		`, a.tableName, limit)
	}
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "relational: search: %v", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows, q.Filters)
	a.counters.RecordOp("search", err != nil, time.Since(start).Nanoseconds())
	return out, err
}

// Scroll performs pure filter enumeration with no ranking, used for
// tests and filter-only paths.
func (a *Adapter) Scroll(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := a.pool.Query(opCtx, `SELECT data FROM records WHERE table_name = $1 LIMIT $2`, a.tableName, limit)
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "relational: scroll: %v", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows, q.Filters)
	a.counters.RecordOp("search", err != nil, time.Since(start).Nanoseconds())
	return out, err
}

func scanRecords(rows pgx.Rows, filters map[string]any) ([]storage.Record, error) {
	var out []storage.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, memerr.Wrap(memerr.ErrDataValidation, "relational: scan row: %v", err)
		}
		var rec storage.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, memerr.Wrap(memerr.ErrDataValidation, "relational: unmarshal row: %v", err)
		}
		if matchesFilters(rec, filters) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
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

	tag, err := a.pool.Exec(opCtx, `DELETE FROM records WHERE table_name = $1 AND id = $2`, a.tableName, id)
	failed := err != nil
	a.counters.RecordOp("delete", failed, time.Since(start).Nanoseconds())
	if failed {
		return false, memerr.Wrap(memerr.ErrTransientBackend, "relational: delete %s: %v", id, err)
	}
	return tag.RowsAffected() > 0, nil
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

func (a *Adapter) HealthCheck(ctx context.Context) storage.HealthResult {
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.pool.Ping(pingCtx)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := storage.StatusForLatency(latencyMs)
	if err != nil {
		status = storage.StatusUnhealthy
	}

	backendSpecific := a.counters.Snapshot()
	if a.pool != nil {
		stat := a.pool.Stat()
		backendSpecific["total_conns"] = stat.TotalConns()
		backendSpecific["idle_conns"] = stat.IdleConns()
	}

	return storage.HealthResult{
		Status:          status,
		LatencyMs:       latencyMs,
		BackendSpecific: backendSpecific,
	}
}
