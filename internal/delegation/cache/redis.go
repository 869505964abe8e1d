package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"delego/internal/delegation"
	"delego/pkg/domain"
)

const (
	decisionKeyPrefix = "delego:decision:"
	epochKeyPrefix    = "delego:epoch:"

	// epochTTL bounds the epoch keyspace. Revoked tasks are terminal, so an
	// epoch key only needs to outlive every decision entry written under an
	// older epoch; those carry at most the allow TTL. A day is generous.
	epochTTL = 24 * time.Hour
)

// RedisStore is a decision store shared across engine replicas. Decisions
// expire via Redis TTLs; invalidation is an INCR on the task's epoch key,
// which orphans every decision key minted under the old epoch.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

type redisDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func decisionKey(epoch uint64, key Key) string {
	return fmt.Sprintf("%s%d:%s:%s:%s:%s", decisionKeyPrefix, epoch, key.Agent, key.Task, key.Resource, key.Access)
}

func epochKey(taskID domain.TaskID) string {
	return epochKeyPrefix + string(taskID)
}

func (s *RedisStore) Get(ctx context.Context, epoch uint64, key Key) (*delegation.Decision, error) {
	raw, err := s.client.Get(ctx, decisionKey(epoch, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var stored redisDecision
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode cached decision: %w", err)
	}
	return &delegation.Decision{Allowed: stored.Allowed, Reason: stored.Reason}, nil
}

func (s *RedisStore) Set(ctx context.Context, epoch uint64, key Key, decision delegation.Decision, ttl time.Duration) error {
	raw, err := json.Marshal(redisDecision{Allowed: decision.Allowed, Reason: decision.Reason})
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	if err := s.client.Set(ctx, decisionKey(epoch, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Epoch(ctx context.Context, taskID domain.TaskID) (uint64, error) {
	raw, err := s.client.Get(ctx, epochKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get epoch: %w", err)
	}
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse epoch %q: %w", raw, err)
	}
	return epoch, nil
}

// BumpEpoch invalidates the task's cached decisions.
func (s *RedisStore) BumpEpoch(ctx context.Context, taskID domain.TaskID) error {
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, epochKey(taskID))
	pipe.Expire(ctx, epochKey(taskID), epochTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis incr epoch: %w", err)
	}
	return nil
}
