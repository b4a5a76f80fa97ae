package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueKey = "gemindex:sync:queue"

	// publishAttempts bounds retries of a single publish.
	publishAttempts = 3
	// maxDeliveries bounds how often a message is handed to a consumer
	// before landing on the failed list.
	maxDeliveries = 3

	// History retention on the broker.
	completedRetention = 200
	failedRetention    = 500
)

// TickMessage is the only payload the bridge carries: a wake-up signal
// with a source label. It never carries state the orchestrator depends
// on; every tick re-derives pending work from the document store.
type TickMessage struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Deliveries int       `json:"deliveries"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Bridge delivers tick signals across processes over a redis list.
// With a nil client it is entirely inert: publishes are no-ops and
// Consume returns immediately.
type Bridge struct {
	client       *redis.Client
	queueKey     string
	completedKey string
	failedKey    string
	logger       zerolog.Logger
}

func NewBridge(client *redis.Client, logger *zerolog.Logger) *Bridge {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Bridge{
		client:       client,
		queueKey:     defaultQueueKey,
		completedKey: defaultQueueKey + ":completed",
		failedKey:    defaultQueueKey + ":failed",
		logger:       l,
	}
}

func (b *Bridge) Enabled() bool {
	return b != nil && b.client != nil
}

// PublishTick pushes a wake-up message with bounded retry. Callers
// treat failures as non-fatal.
func (b *Bridge) PublishTick(ctx context.Context, source string) error {
	if !b.Enabled() {
		return nil
	}

	msg := TickMessage{
		ID:         fmt.Sprintf("tick_%s", uuid.NewString()),
		Source:     source,
		EnqueuedAt: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode tick message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if lastErr = b.client.LPush(ctx, b.queueKey, data).Err(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("publish tick: %w", lastErr)
}

// Consume blocks reading tick messages and invoking handler for each.
// A message whose handler fails is re-queued up to maxDeliveries, then
// recorded on the failed list. Returns when ctx is done.
func (b *Bridge) Consume(ctx context.Context, handler func(ctx context.Context, msg TickMessage) error) error {
	if !b.Enabled() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok := b.pop(ctx)
		if !ok {
			continue
		}

		msg.Deliveries++
		if err := handler(ctx, msg); err != nil {
			b.logger.Warn().Err(err).Str("id", msg.ID).Int("deliveries", msg.Deliveries).Msg("tick handler failed")
			if msg.Deliveries >= maxDeliveries {
				b.record(ctx, b.failedKey, msg, failedRetention)
				continue
			}
			b.requeue(ctx, msg)
			continue
		}

		b.record(ctx, b.completedKey, msg, completedRetention)
	}
}

func (b *Bridge) pop(ctx context.Context) (TickMessage, bool) {
	res, err := b.client.BRPop(ctx, time.Second, b.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return TickMessage{}, false
		}
		b.logger.Warn().Err(err).Msg("queue pop failed")
		time.Sleep(time.Second)
		return TickMessage{}, false
	}
	if len(res) != 2 {
		return TickMessage{}, false
	}

	var msg TickMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		b.logger.Warn().Err(err).Msg("decode tick message failed")
		return TickMessage{}, false
	}
	return msg, true
}

func (b *Bridge) requeue(ctx context.Context, msg TickMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.LPush(ctx, b.queueKey, data).Err(); err != nil {
		b.logger.Warn().Err(err).Str("id", msg.ID).Msg("requeue failed")
	}
}

func (b *Bridge) record(ctx context.Context, key string, msg TickMessage, retention int64) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, retention-1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Debug().Err(err).Str("key", key).Msg("history record failed")
	}
}
