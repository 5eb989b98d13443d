package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes and TTLs.
const (
	dedupKeyPrefix  = "reqdedup:"
	defaultDedupTTL = 24 * time.Hour
)

// RedisDeduplicationStore is a Redis-backed deduplication store shared by
// every analyzer replica consuming the request queue.
type RedisDeduplicationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicationStore creates a new Redis-backed deduplication store.
func NewRedisDeduplicationStore(client *redis.Client, ttl time.Duration) *RedisDeduplicationStore {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduplicationStore{
		client: client,
		ttl:    ttl,
	}
}

// redisDeduplicationEntry is the JSON-serializable form for Redis storage.
type redisDeduplicationEntry struct {
	RequestID   string            `json:"request_id"`
	ProcessedAt time.Time         `json:"processed_at"`
	Result      *ProcessingResult `json:"result,omitempty"`
}

// IsProcessed checks if a request has been processed.
func (s *RedisDeduplicationStore) IsProcessed(ctx context.Context, requestID RequestID) (bool, error) {
	exists, err := s.client.Exists(ctx, dedupKeyPrefix+requestID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return exists > 0, nil
}

// MarkProcessedWithResult marks a request as processed with its outcome.
func (s *RedisDeduplicationStore) MarkProcessedWithResult(
	ctx context.Context,
	requestID RequestID,
	result *ProcessingResult,
) error {
	entry := &redisDeduplicationEntry{
		RequestID:   requestID.String(),
		ProcessedAt: time.Now(),
		Result:      result,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if setErr := s.client.Set(ctx, dedupKeyPrefix+requestID.String(), data, s.ttl).Err(); setErr != nil {
		return fmt.Errorf("set key: %w", setErr)
	}

	return nil
}

// GetProcessingResult returns the outcome of a processed request.
func (s *RedisDeduplicationStore) GetProcessingResult(ctx context.Context, requestID RequestID) (*ProcessingResult, error) {
	data, err := s.client.Get(ctx, dedupKeyPrefix+requestID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // nil result is valid for unknown requests
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var entry redisDeduplicationEntry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", unmarshalErr)
	}

	return entry.Result, nil
}

// Cleanup is a no-op; Redis expires keys by TTL.
func (s *RedisDeduplicationStore) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}
