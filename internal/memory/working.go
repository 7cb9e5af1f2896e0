package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sidekick/config"
)

// WorkingMemory keeps short-lived, per-conversation summaries in redis.
// Entries expire with the conversation's TTL; durable knowledge belongs in
// notes, which go through the store and the retriever instead.
type WorkingMemory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWorkingMemory connects to redis and verifies the connection.
func NewWorkingMemory(ctx context.Context, cfg config.RedisConfig) (*WorkingMemory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &WorkingMemory{client: client, ttl: ttl}, nil
}

func memoryKey(conversationID string) string {
	return fmt.Sprintf("memory:%s:summaries", conversationID)
}

// Append records a timestamped summary for a conversation.
func (w *WorkingMemory) Append(ctx context.Context, conversationID, summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}
	key := memoryKey(conversationID)
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), summary)
	if err := w.client.RPush(ctx, key, entry).Err(); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return w.client.Expire(ctx, key, w.ttl).Err()
}

// Recent returns up to n most recent summaries, oldest first.
func (w *WorkingMemory) Recent(ctx context.Context, conversationID string, n int) ([]string, error) {
	if n <= 0 {
		n = 10
	}
	entries, err := w.client.LRange(ctx, memoryKey(conversationID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	return entries, nil
}

// AcquireLock takes a best-effort distributed lock, used by the retention
// sweeper so only one replica prunes at a time.
func (w *WorkingMemory) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return w.client.SetNX(ctx, "lock:"+name, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Close releases the redis client.
func (w *WorkingMemory) Close() error { return w.client.Close() }
