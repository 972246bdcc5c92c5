package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/regsentry/regulatory-monitor-backend/internal/domain/notification"
	"github.com/regsentry/regulatory-monitor-backend/internal/service/notifier"
)

const (
	digestPrefix = "digest:"

	// Entries survive a missed flush but not forever.
	digestTTL = 14 * 24 * time.Hour
)

// RedisDigestQueue accumulates digest entries per (recipient, channel) in
// redis lists between flushes, so pending digests survive restarts.
type RedisDigestQueue struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisDigestQueue(client *redis.Client, logger *zap.Logger) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, logger: logger}
}

func digestKey(recipient string, channel notification.Channel) string {
	return digestPrefix + recipient + ":" + string(channel)
}

// Enqueue appends one entry to the recipient's channel queue.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, recipient string, channel notification.Channel, entry notifier.DigestEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal digest entry: %w", err)
	}

	key := digestKey(recipient, channel)
	pipe := q.client.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, digestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue digest entry: %w", err)
	}
	return nil
}

// Drain atomically removes and returns all queued entries for the
// (recipient, channel) pair, in accumulation order.
func (q *RedisDigestQueue) Drain(ctx context.Context, recipient string, channel notification.Channel) ([]notifier.DigestEntry, error) {
	key := digestKey(recipient, channel)

	pipe := q.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain digest queue: %w", err)
	}

	raw := rangeCmd.Val()
	entries := make([]notifier.DigestEntry, 0, len(raw))
	for _, payload := range raw {
		var entry notifier.DigestEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			q.logger.Warn("dropping malformed digest entry",
				zap.String("recipient", recipient),
				zap.String("channel", string(channel)),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
