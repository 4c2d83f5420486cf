// Package graph implements the storage.Adapter contract over Neo4j via
// neo4j-go-driver/v5, backing the graph half of L3's dual index: Episode
// nodes, Entity nodes, and MENTIONS edges carrying bi-temporal
// fact_valid_from/fact_valid_to properties. Only registered Cypher
// templates are executable through Search — free-form query strings
// from callers are forbidden per spec §4.2.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

// Template is a registered, parameterized Cypher query. Only templates
// in the adapter's built-in set (populated by New) are executable
// through Search — this is
// the enforcement point for "free-form query strings from callers are
// forbidden."
type Template struct {
	Name   string
	Cypher string
}

// Adapter is the Graph storage.Adapter implementation.
type Adapter struct {
	uri       string
	user      string
	password  string
	driver    neo4j.DriverWithContext
	timeout   time.Duration
	templates map[string]Template
	counters  storage.Counters
}

// New constructs a Graph adapter with the built-in template set: the
// registered templates a compliant L3 query_graph call is allowed to
// invoke, each hard-coding temporal validity per spec §4.2.
func New(uri, user, password string, timeout time.Duration) (*Adapter, error) {
	if uri == "" {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "graph: uri required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		uri:      uri,
		user:     user,
		password: password,
		timeout:  timeout,
		templates: map[string]Template{
			"episodes_by_entity": {
				Name: "episodes_by_entity",
				Cypher: `
					MATCH (e:Entity {entity_id: $entity_id})<-[m:MENTIONS]-(ep:Episode)
					WHERE m.factValidTo IS NULL
					RETURN ep, m.confidence AS confidence
					ORDER BY ep.time_window_start DESC
					LIMIT $limit
				`,
			},
			"currently_valid_episodes": {
				Name: "currently_valid_episodes",
				Cypher: `
					MATCH (ep:Episode {session_id: $session_id})
					WHERE ep.factValidTo IS NULL
					RETURN ep
					ORDER BY ep.time_window_start DESC
					LIMIT $limit
				`,
			},
			"episodes_valid_at": {
				Name: "episodes_valid_at",
				Cypher: `
					MATCH (ep:Episode {session_id: $session_id})
					WHERE ep.factValidFrom <= $as_of AND (ep.factValidTo IS NULL OR ep.factValidTo > $as_of)
					RETURN ep
					ORDER BY ep.time_window_start DESC
					LIMIT $limit
				`,
			},
		},
	}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(a.uri, neo4j.BasicAuth(a.user, a.password, ""))
	if err != nil {
		return memerr.Wrap(memerr.ErrConnection, "graph: create driver: %v", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		return memerr.Wrap(memerr.ErrConnection, "graph: verify connectivity: %v", err)
	}

	a.driver = driver
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.driver != nil {
		return a.driver.Close(ctx)
	}
	return nil
}

func (a *Adapter) session(ctx context.Context) neo4j.SessionWithContext {
	return a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

// Store upserts an Episode node and its MENTIONS edges to Entity nodes.
// rec must carry "episode_id", "session_id", the bi-temporal fields,
// and an "entities" list of {entity_id, name, type, confidence}.
func (a *Adapter) Store(ctx context.Context, rec storage.Record) (string, error) {
	start := time.Now()
	episodeID, _ := rec["episode_id"].(string)
	if episodeID == "" {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", memerr.Wrap(memerr.ErrDataValidation, "graph: record requires episode_id")
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sess := a.session(opCtx)
	defer sess.Close(opCtx)

	_, err := sess.ExecuteWrite(opCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(opCtx, `
			MERGE (ep:Episode {episode_id: $episode_id})
			SET ep.session_id = $session_id,
			    ep.vector_id = $vector_id,
			    ep.time_window_start = $time_window_start,
			    ep.time_window_end = $time_window_end,
			    ep.factValidFrom = $fact_valid_from,
			    ep.factValidTo = $fact_valid_to,
			    ep.importance = $importance,
			    ep.summary = $summary,
			    ep.topics = $topics
		`, map[string]any{
			"episode_id":        episodeID,
			"session_id":        rec["session_id"],
			"vector_id":         rec["vector_id"],
			"time_window_start": rec["time_window_start"],
			"time_window_end":   rec["time_window_end"],
			"fact_valid_from":   rec["fact_valid_from"],
			"fact_valid_to":     rec["fact_valid_to"],
			"importance":        rec["importance"],
			"summary":           rec["summary"],
			"topics":            rec["topics"],
		})
		if err != nil {
			return nil, err
		}

		entities, _ := rec["entities"].([]map[string]any)
		for _, ent := range entities {
			_, err := tx.Run(opCtx, `
				MATCH (ep:Episode {episode_id: $episode_id})
				MERGE (e:Entity {entity_id: $entity_id})
				SET e.name = $name, e.type = $type
				MERGE (ep)-[m:MENTIONS]->(e)
				SET m.confidence = $confidence,
				    m.factValidFrom = $fact_valid_from,
				    m.factValidTo = $fact_valid_to
			`, map[string]any{
				"episode_id":      episodeID,
				"entity_id":       ent["entity_id"],
				"name":            ent["name"],
				"type":            ent["type"],
				"confidence":      ent["confidence"],
				"fact_valid_from": rec["fact_valid_from"],
				"fact_valid_to":   rec["fact_valid_to"],
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	failed := err != nil
	a.counters.RecordOp("store", failed, time.Since(start).Nanoseconds())
	if failed {
		return "", memerr.Wrap(memerr.ErrTransientBackend, "graph: store episode %s: %v", episodeID, err)
	}
	return episodeID, nil
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

	sess := a.driver.NewSession(opCtx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(opCtx)

	result, err := sess.ExecuteRead(opCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(opCtx, `MATCH (ep:Episode {episode_id: $id}) RETURN ep`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(opCtx) {
			return nil, nil
		}
		node, _ := res.Record().Get("ep")
		return node, res.Err()
	})

	if err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "graph: retrieve %s: %v", id, err)
	}
	if result == nil {
		a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
		return nil, fmt.Errorf("graph: episode %s: %w", id, memerr.ErrNotFound)
	}

	a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
	return nodeToRecord(result), nil
}

func nodeToRecord(v any) storage.Record {
	node, ok := v.(neo4j.Node)
	if !ok {
		return storage.Record{}
	}
	rec := storage.Record{}
	for k, val := range node.Props {
		rec[k] = val
	}
	return rec
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

// Search executes a registered template by name — q.GraphTemplate must
// name an entry in the built-in set New registers. Free-form
// Cypher is never accepted.
func (a *Adapter) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	tmpl, ok := a.templates[q.GraphTemplate]
	if !ok {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "graph: unregistered query template %q", q.GraphTemplate)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := make(map[string]any, len(q.Filters)+1)
	for k, v := range q.Filters {
		params[k] = v
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	params["limit"] = limit

	sess := a.driver.NewSession(opCtx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(opCtx)

	records, err := sess.ExecuteRead(opCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(opCtx, tmpl.Cypher, params)
		if err != nil {
			return nil, err
		}
		var out []storage.Record
		for res.Next(opCtx) {
			if ep, found := res.Record().Get("ep"); found {
				out = append(out, nodeToRecord(ep))
			}
		}
		return out, res.Err()
	})

	failed := err != nil
	a.counters.RecordOp("search", failed, time.Since(start).Nanoseconds())
	if failed {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "graph: search template %s: %v", q.GraphTemplate, err)
	}
	out, _ := records.([]storage.Record)
	return out, nil
}

// Scroll performs a filter-only enumeration of Episode nodes, ignoring
// GraphTemplate — the Graph backend's contribution to filter-based
// retrieval without similarity semantics.
func (a *Adapter) Scroll(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	sessionID, _ := q.Filters["session_id"].(string)

	sess := a.driver.NewSession(opCtx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(opCtx)

	records, err := sess.ExecuteRead(opCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(opCtx, `
			MATCH (ep:Episode)
			WHERE $session_id = "" OR ep.session_id = $session_id
			RETURN ep LIMIT $limit
		`, map[string]any{"session_id": sessionID, "limit": limit})
		if err != nil {
			return nil, err
		}
		var out []storage.Record
		for res.Next(opCtx) {
			if ep, found := res.Record().Get("ep"); found {
				out = append(out, nodeToRecord(ep))
			}
		}
		return out, res.Err()
	})

	failed := err != nil
	a.counters.RecordOp("search", failed, time.Since(start).Nanoseconds())
	if failed {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "graph: scroll: %v", err)
	}
	out, _ := records.([]storage.Record)
	return out, nil
}

func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sess := a.session(opCtx)
	defer sess.Close(opCtx)

	result, err := sess.ExecuteWrite(opCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(opCtx, `MATCH (ep:Episode {episode_id: $id}) DETACH DELETE ep RETURN count(ep) AS c`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(opCtx)
		if err != nil {
			return nil, err
		}
		return summary.Counters().NodesDeleted() > 0, nil
	})

	failed := err != nil
	a.counters.RecordOp("delete", failed, time.Since(start).Nanoseconds())
	if failed {
		return false, memerr.Wrap(memerr.ErrTransientBackend, "graph: delete %s: %v", id, err)
	}
	deleted, _ := result.(bool)
	return deleted, nil
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

	err := a.driver.VerifyConnectivity(pingCtx)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := storage.StatusForLatency(latencyMs)
	if err != nil {
		status = storage.StatusUnhealthy
	}

	return storage.HealthResult{
		Status:          status,
		LatencyMs:       latencyMs,
		BackendSpecific: a.counters.Snapshot(),
	}
}
