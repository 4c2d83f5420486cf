// Package tiers implements the four memory tiers — L1 Active Context, L2
// Working Memory, L3 Episodic Memory, L4 Semantic Memory — each wrapping
// one or two storage.Adapters with tier-specific invariants, windowing,
// and access tracking. The data-path methods (store, retrieve,
// query/search, and the L1/L2/L4 deletes) emit a tier_access telemetry
// event, the teacher's wrap-call-then-record idiom generalized from HTTP
// middleware metrics recording to tier-level telemetry emission.
// HealthCheck, Initialize, Cleanup, L2's RecomputeAgeDecay, and L3's
// Delete and reconciliation methods emit none.
package tiers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/relational"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
)

// ActiveContext is L1: write-through KV (hot) + Relational (cold).
type ActiveContext struct {
	kv         *kv.Adapter
	relational *relational.Adapter
	producer   *telemetry.Producer
	window     int
	ttl        time.Duration
}

// NewActiveContext constructs L1. window (default 20) bounds the KV list
// length per role per session; ttl (default 24h) bounds KV retention —
// the Relational copy never expires.
func NewActiveContext(kvAdapter *kv.Adapter, relAdapter *relational.Adapter, producer *telemetry.Producer, window int, ttl time.Duration) *ActiveContext {
	if window <= 0 {
		window = 20
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ActiveContext{kv: kvAdapter, relational: relAdapter, producer: producer, window: window, ttl: ttl}
}

func roleKey(sessionID string, role models.Role) string {
	return fmt.Sprintf("%s:%s", namespace.ActiveContextKey(sessionID), role)
}

func turnToRecord(turn *models.Turn) storage.Record {
	return storage.Record{
		"id":         turn.TurnID,
		"session_id": turn.SessionID,
		"turn_id":    turn.TurnID,
		"role":       string(turn.Role),
		"content":    turn.Content,
		"metadata":   turn.Metadata,
		"created_at": turn.CreatedAt,
	}
}

func recordToTurn(rec storage.Record) (*models.Turn, error) {
	sessionID, _ := rec["session_id"].(string)
	turnID, _ := rec["turn_id"].(string)
	role, _ := rec["role"].(string)
	content, _ := rec["content"].(string)

	var createdAt time.Time
	switch v := rec["created_at"].(type) {
	case time.Time:
		createdAt = v
	case string:
		createdAt, _ = time.Parse(time.RFC3339Nano, v)
	}

	metadata, _ := rec["metadata"].(map[string]any)
	return models.NewTurn(sessionID, turnID, models.Role(role), content, metadata, createdAt)
}

// Store atomically appends turn to its role-keyed KV window and durably
// inserts it into Relational. User and assistant turns are stored under
// distinct KV keys so their id sequences never collide.
func (a *ActiveContext) Store(ctx context.Context, turn *models.Turn) error {
	if _, err := a.kv.AppendWithWindowing(ctx, roleKey(turn.SessionID, turn.Role), turn, a.window, a.ttl); err != nil {
		a.emit(ctx, turn.SessionID, "store", false)
		return err
	}

	if _, err := a.relational.Store(ctx, turnToRecord(turn)); err != nil {
		a.emit(ctx, turn.SessionID, "store", false)
		return err
	}

	if err := a.kv.Enqueue(ctx, namespace.FactBufferKey(turn.SessionID), turn.TurnID); err != nil {
		a.emit(ctx, turn.SessionID, "enqueue_fact_buffer_failed", false)
	}

	if err := a.kv.AddToSet(ctx, namespace.SweepSetKey(), turn.SessionID); err != nil {
		a.emit(ctx, turn.SessionID, "mark_dirty_failed", false)
	}

	a.emit(ctx, turn.SessionID, "store", true)
	return nil
}

// Retrieve returns every buffered turn for sessionID in chronological
// order. If the KV window is empty (e.g. after a KV restart with no
// Wake-Up Sweep yet run), it falls back to Relational and rebuilds KV.
func (a *ActiveContext) Retrieve(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	turns, err := a.retrieveFromKV(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(turns) == 0 {
		turns, err = a.rebuildFromRelational(ctx, sessionID)
		if err != nil {
			a.emit(ctx, sessionID, "retrieve", false)
			return nil, err
		}
	}

	sort.Slice(turns, func(i, j int) bool { return turns[i].CreatedAt.Before(turns[j].CreatedAt) })
	a.emit(ctx, sessionID, "retrieve", true)
	return turns, nil
}

func (a *ActiveContext) retrieveFromKV(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	var turns []*models.Turn
	for _, role := range []models.Role{models.RoleUser, models.RoleAssistant, models.RoleSystem} {
		raw, err := a.kv.ListWindow(ctx, roleKey(sessionID, role))
		if err != nil {
			return nil, err
		}
		for _, item := range raw {
			var turn models.Turn
			if err := json.Unmarshal([]byte(item), &turn); err != nil {
				continue
			}
			t := turn
			turns = append(turns, &t)
		}
	}
	return turns, nil
}

func (a *ActiveContext) rebuildFromRelational(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	records, err := a.relational.Scroll(ctx, storage.Query{Filters: map[string]any{"session_id": sessionID}, Limit: 10000})
	if err != nil {
		return nil, err
	}

	turns := make([]*models.Turn, 0, len(records))
	for _, rec := range records {
		turn, err := recordToTurn(rec)
		if err != nil {
			continue
		}
		turns = append(turns, turn)
		a.kv.AppendWithWindowing(ctx, roleKey(sessionID, turn.Role), turn, a.window, a.ttl)
	}
	return turns, nil
}

// RetrieveByIDs returns the subset of sessionID's buffered turns whose
// TurnID appears in turnIDs, in chronological order — the Promotion
// engine's way of resolving the ids AtomicPromotion dequeues from the
// fact buffer back into full turn content.
func (a *ActiveContext) RetrieveByIDs(ctx context.Context, sessionID string, turnIDs []string) ([]*models.Turn, error) {
	all, err := a.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(turnIDs))
	for _, id := range turnIDs {
		wanted[id] = struct{}{}
	}

	out := make([]*models.Turn, 0, len(turnIDs))
	for _, turn := range all {
		if _, ok := wanted[turn.TurnID]; ok {
			out = append(out, turn)
		}
	}
	return out, nil
}

func (a *ActiveContext) Delete(ctx context.Context, sessionID, turnID string) (bool, error) {
	ok, err := a.relational.Delete(ctx, turnID)
	a.emit(ctx, sessionID, "delete", err == nil)
	return ok, err
}

func (a *ActiveContext) HealthCheck(ctx context.Context) storage.HealthResult {
	return a.kv.HealthCheck(ctx)
}

func (a *ActiveContext) Initialize(ctx context.Context) error {
	if err := a.kv.Connect(ctx); err != nil {
		return err
	}
	return a.relational.Connect(ctx)
}

func (a *ActiveContext) Cleanup(ctx context.Context) error {
	if err := a.kv.Disconnect(ctx); err != nil {
		return err
	}
	return a.relational.Disconnect(ctx)
}

func (a *ActiveContext) emit(ctx context.Context, sessionID, operation string, success bool) {
	if a.producer == nil {
		return
	}
	a.producer.Emit(ctx, models.NewTelemetryEvent(models.EventTierAccess, sessionID, "", "l1_active_context", map[string]any{
		"operation": operation,
		"success":   success,
	}))
}
