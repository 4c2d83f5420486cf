// Package telemetry is the lifecycle event stream: a Redis Streams
// producer/consumer pair built on go-redis's XAdd/XReadGroup/XAck/
// XPending, the Go-native analogue of the spec's abstract "KV store's
// stream primitive." Grounded on the teacher's analytics.Pipeline
// producer/sink shape (batched, non-blocking ingestion with a bounded
// buffer) adapted from a ClickHouse-bound analytics sink to a
// Redis-stream lifecycle event bus with consumer groups and at-least-once
// delivery.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
)

// Producer emits TelemetryEvents onto the shared stream. Emission is
// best-effort: a failed XAdd is logged and swallowed rather than
// propagated, since telemetry must never block or fail a tier/engine
// operation, per spec §4.7's "best-effort emission."
type Producer struct {
	client  *redis.Client
	maxLen  int64
	logger  zerolog.Logger
}

// NewProducer constructs a Producer bounding the stream to maxLen entries
// via approximate MAXLEN trimming (the `~` form, cheaper than exact
// trimming since it only trims at macro-node boundaries).
func NewProducer(client *redis.Client, maxLen int64, logger zerolog.Logger) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{client: client, maxLen: maxLen, logger: logger.With().Str("component", "telemetry-producer").Logger()}
}

// Emit appends event to the stream. Never returns an error to callers
// that don't check it — tiers/engines call this fire-and-forget.
func (p *Producer) Emit(ctx context.Context, event models.TelemetryEvent) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("event_type", event.EventType).Msg("telemetry: marshal payload failed, dropping event")
		return
	}

	values := map[string]any{
		"event_type":  event.EventType,
		"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
		"session_id":  event.SessionID,
		"engine_name": event.EngineName,
		"tier_name":   event.TierName,
		"payload":     string(payload),
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: namespace.TelemetryStreamKey(),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		p.logger.Warn().Err(err).Str("event_type", event.EventType).Msg("telemetry: emit failed, dropping event")
	}
}

// EmitOrError is Emit's error-returning counterpart, for call sites that
// need to know whether the event actually landed (e.g. the Wake-Up Sweep
// audit path).
func (p *Producer) EmitOrError(ctx context.Context, event models.TelemetryEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return memerr.Wrap(memerr.ErrDataValidation, "telemetry: marshal payload: %v", err)
	}

	values := map[string]any{
		"event_type":  event.EventType,
		"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
		"session_id":  event.SessionID,
		"engine_name": event.EngineName,
		"tier_name":   event.TierName,
		"payload":     string(payload),
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: namespace.TelemetryStreamKey(),
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return memerr.Wrap(memerr.ErrTransientBackend, "telemetry: xadd: %v", err)
	}
	return nil
}
