package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
)

// Handler processes one delivered event. A non-nil return leaves the
// message unacked so it is redelivered (to this or another consumer) on
// the next recovery pass — the at-least-once contract.
type Handler func(ctx context.Context, event models.TelemetryEvent) error

// Consumer reads the telemetry stream as part of a named consumer group,
// dispatching each message to every registered Handler and acking only
// once all handlers succeed — the teacher's Pipeline worker loop
// (ticker+channel select, batch-then-flush) generalized from an
// in-process channel to a durable Redis Streams consumer group so a
// restarted consumer resumes from its last unacked message instead of
// losing in-flight events.
type Consumer struct {
	client   *redis.Client
	group    string
	name     string
	logger   zerolog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// NewConsumer constructs a Consumer identified by group/name without
// touching Redis. EnsureGroup (which Run calls first) creates the group
// (MkStream, starting from the beginning) if absent.
func NewConsumer(client *redis.Client, group, name string, logger zerolog.Logger) *Consumer {
	return &Consumer{
		client: client,
		group:  group,
		name:   name,
		logger: logger.With().Str("component", "telemetry-consumer").Str("group", group).Str("consumer", name).Logger(),
	}
}

// RegisterHandler adds a handler invoked for every delivered event.
func (c *Consumer) RegisterHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// EnsureGroup creates the consumer group if it does not already exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, namespace.TelemetryStreamKey(), c.group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return memerr.Wrap(memerr.ErrConnection, "telemetry: create consumer group: %v", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Run blocks, reading new messages and dispatching them to every
// registered handler until ctx is cancelled. Before entering the read
// loop it recovers any pending (delivered-but-unacked) messages left by
// a prior crashed consumer — the telemetry side of the Wake-Up Sweep.
func (c *Consumer) Run(ctx context.Context, blockTimeout time.Duration) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	if err := c.RecoverPending(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("telemetry: pending recovery failed, continuing")
	}

	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{namespace.TelemetryStreamKey(), ">"},
			Count:    100,
			Block:    blockTimeout,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Msg("telemetry: xreadgroup failed")
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, msg)
			}
		}
	}
}

// RecoverPending claims and redispatches messages that were delivered to
// a consumer that never acked them — the restart-recovery half of
// at-least-once delivery, exercised by the Wake-Up Sweep on startup.
func (c *Consumer) RecoverPending(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: namespace.TelemetryStreamKey(),
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return memerr.Wrap(memerr.ErrTransientBackend, "telemetry: xpending: %v", err)
	}

	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   namespace.TelemetryStreamKey(),
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  0,
		Messages: ids,
	}).Result()
	if err != nil {
		return memerr.Wrap(memerr.ErrTransientBackend, "telemetry: xclaim: %v", err)
	}

	for _, msg := range claimed {
		c.dispatch(ctx, msg)
	}
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) {
	event, err := parseEvent(msg.Values)
	if err != nil {
		c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("telemetry: malformed message, acking to avoid poison-pill retry loop")
		c.ack(ctx, msg.ID)
		return
	}

	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	allSucceeded := true
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			allSucceeded = false
			c.logger.Warn().Err(err).Str("message_id", msg.ID).Str("event_type", event.EventType).Msg("telemetry: handler failed, leaving unacked")
		}
	}
	if allSucceeded {
		c.ack(ctx, msg.ID)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, namespace.TelemetryStreamKey(), c.group, id).Err(); err != nil {
		c.logger.Warn().Err(err).Str("message_id", id).Msg("telemetry: ack failed")
	}
}

func parseEvent(values map[string]any) (models.TelemetryEvent, error) {
	eventType, _ := values["event_type"].(string)
	if eventType == "" {
		return models.TelemetryEvent{}, memerr.Wrap(memerr.ErrDataValidation, "telemetry: message missing event_type")
	}

	timestamp := time.Now().UTC()
	if ts, ok := values["timestamp"].(string); ok && ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			timestamp = parsed
		}
	}

	var payload map[string]any
	if raw, ok := values["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return models.TelemetryEvent{}, memerr.Wrap(memerr.ErrDataValidation, "telemetry: unmarshal payload: %v", err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	sessionID, _ := values["session_id"].(string)
	engineName, _ := values["engine_name"].(string)
	tierName, _ := values["tier_name"].(string)

	return models.TelemetryEvent{
		EventType:  eventType,
		Timestamp:  timestamp,
		SessionID:  sessionID,
		EngineName: engineName,
		TierName:   tierName,
		Payload:    payload,
	}, nil
}
