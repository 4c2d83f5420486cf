// Package fulltext implements the storage.Adapter contract over
// OpenSearch via opensearch-go/v4, backing L4 semantic memory's faceted
// full-text index of KnowledgeDocuments. The facet fields are fixed in
// indexMapping, and Search turns every caller-supplied filter key into a
// term clause; the domain schema (config.DomainSchema) is not consulted.
package fulltext

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

const defaultIndex = "knowledge_documents"

// Adapter is the FullText storage.Adapter implementation.
type Adapter struct {
	addresses []string
	username  string
	password  string
	index     string
	client    *opensearchapi.Client
	timeout   time.Duration
	counters  storage.Counters
}

// New constructs a FullText adapter against the given OpenSearch
// addresses. index defaults to "knowledge_documents" when empty.
func New(addresses []string, username, password, index string, timeout time.Duration) (*Adapter, error) {
	if len(addresses) == 0 {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "fulltext: at least one address required")
	}
	if index == "" {
		index = defaultIndex
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{addresses: addresses, username: username, password: password, index: index, timeout: timeout}, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: a.addresses,
			Username:  a.username,
			Password:  a.password,
		},
	})
	if err != nil {
		return memerr.Wrap(memerr.ErrConnection, "fulltext: create client: %v", err)
	}
	a.client = client

	createCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	exists, err := client.Indices.Exists(createCtx, opensearchapi.IndicesExistsReq{Indices: []string{a.index}})
	if err == nil && exists != nil && exists.StatusCode == 404 {
		_, err := client.Indices.Create(createCtx, opensearchapi.IndicesCreateReq{
			Index: a.index,
			Body:  bytes.NewReader([]byte(indexMapping)),
		})
		if err != nil {
			return memerr.Wrap(memerr.ErrConnection, "fulltext: create index: %v", err)
		}
	}
	return nil
}

// indexMapping declares the generic KnowledgeDocument shape: a custom
// non-stemming 'exact' analyzer (standard tokenizer + lowercase) on
// title and content for exact-token matching, plus
// keyword facet fields the domain schema can filter on.
const indexMapping = `{
	"settings": {
		"analysis": {
			"analyzer": {
				"exact": {
					"type": "custom",
					"tokenizer": "standard",
					"filter": ["lowercase"]
				}
			}
		}
	},
	"mappings": {
		"properties": {
			"knowledge_id":      {"type": "keyword"},
			"title":             {"type": "text", "analyzer": "exact"},
			"content":           {"type": "text", "analyzer": "exact"},
			"knowledge_type":    {"type": "keyword"},
			"category":          {"type": "keyword"},
			"domain":            {"type": "keyword"},
			"tags":              {"type": "keyword"},
			"confidence_score":  {"type": "float"},
			"usefulness_score":  {"type": "float"},
			"access_count":      {"type": "integer"},
			"validation_count":  {"type": "integer"},
			"source_episode_ids": {"type": "keyword"},
			"provenance_links":  {"type": "keyword"},
			"created_at":        {"type": "date"}
		}
	}
}`

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.client = nil
	return nil
}

func (a *Adapter) Store(ctx context.Context, rec storage.Record) (string, error) {
	start := time.Now()
	id, _ := rec["knowledge_id"].(string)
	if id == "" {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", memerr.Wrap(memerr.ErrDataValidation, "fulltext: record requires knowledge_id")
	}

	body, err := json.Marshal(rec)
	if err != nil {
		a.counters.RecordOp("store", true, time.Since(start).Nanoseconds())
		return "", memerr.Wrap(memerr.ErrDataValidation, "fulltext: marshal record: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err = a.client.Index(opCtx, opensearchapi.IndexReq{
		Index:      a.index,
		Body:       bytes.NewReader(body),
		DocumentID: id,
	})

	failed := err != nil
	a.counters.RecordOp("store", failed, time.Since(start).Nanoseconds())
	if failed {
		return "", memerr.Wrap(memerr.ErrTransientBackend, "fulltext: index %s: %v", id, err)
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

	resp, err := a.client.Document.Get(opCtx, opensearchapi.DocumentGetReq{
		Index:      a.index,
		DocumentID: id,
	})
	if err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "fulltext: get %s: %v", id, err)
	}
	if !resp.Found {
		a.counters.RecordOp("retrieve", false, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrNotFound, "fulltext: id %s", id)
	}

	var rec storage.Record
	if err := json.Unmarshal(resp.Source, &rec); err != nil {
		a.counters.RecordOp("retrieve", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "fulltext: unmarshal %s: %v", id, err)
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

// searchBody builds a bool query: a 'must' multi-match on title/content
// for q.Text (match_all when q.Text is empty), plus a 'filter' term
// clause per facet filter.
func searchBody(q storage.Query) ([]byte, error) {
	must := []map[string]any{}
	if q.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"title^2", "content"},
			},
		})
	} else {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	var filter []map[string]any
	for k, v := range q.Filters {
		filter = append(filter, map[string]any{"term": map[string]any{k: v}})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   must,
				"filter": filter,
			},
		},
	}
	return json.Marshal(body)
}

func (a *Adapter) Search(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	body, err := searchBody(q)
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "fulltext: build query: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Search(opCtx, &opensearchapi.SearchReq{
		Indices: []string{a.index},
		Body:    bytes.NewReader(body),
	})

	failed := err != nil
	a.counters.RecordOp("search", failed, time.Since(start).Nanoseconds())
	if failed {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "fulltext: search: %v", err)
	}
	return hitsToRecords(resp)
}

// Scroll performs filter-only enumeration (no relevance scoring) by
// issuing a match_all query narrowed to q.Filters.
func (a *Adapter) Scroll(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	start := time.Now()
	scrollQuery := q
	scrollQuery.Text = ""
	body, err := searchBody(scrollQuery)
	if err != nil {
		a.counters.RecordOp("search", true, time.Since(start).Nanoseconds())
		return nil, memerr.Wrap(memerr.ErrDataValidation, "fulltext: build scroll query: %v", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Search(opCtx, &opensearchapi.SearchReq{
		Indices: []string{a.index},
		Body:    bytes.NewReader(body),
	})

	failed := err != nil
	a.counters.RecordOp("search", failed, time.Since(start).Nanoseconds())
	if failed {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "fulltext: scroll: %v", err)
	}
	return hitsToRecords(resp)
}

func hitsToRecords(resp *opensearchapi.SearchResp) ([]storage.Record, error) {
	out := make([]storage.Record, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var rec storage.Record
		if err := json.Unmarshal(hit.Source, &rec); err != nil {
			return nil, memerr.Wrap(memerr.ErrDataValidation, "fulltext: unmarshal hit %s: %v", hit.ID, err)
		}
		rec["_score"] = hit.Score
		out = append(out, rec)
	}
	return out, nil
}

func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Document.Delete(opCtx, opensearchapi.DocumentDeleteReq{
		Index:      a.index,
		DocumentID: id,
	})

	failed := err != nil
	a.counters.RecordOp("delete", failed, time.Since(start).Nanoseconds())
	if failed {
		return false, memerr.Wrap(memerr.ErrTransientBackend, "fulltext: delete %s: %v", id, err)
	}
	return resp.Result == "deleted", nil
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
	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.Cluster.Health(opCtx, nil)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := storage.StatusForLatency(latencyMs)
	if err != nil {
		status = storage.StatusUnhealthy
	}

	backendSpecific := a.counters.Snapshot()
	if resp != nil {
		backendSpecific["cluster_status"] = resp.Status
	}

	return storage.HealthResult{
		Status:          status,
		LatencyMs:       latencyMs,
		BackendSpecific: backendSpecific,
	}
}
