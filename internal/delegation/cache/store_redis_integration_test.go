//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"delego/internal/delegation"
	"delego/internal/delegation/cache"
	"delego/pkg/domain"
	"delego/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *cache.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = cache.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) key() cache.Key {
	return cache.Key{Agent: "helper", Task: "task:t1", Resource: "doc1", Access: domain.AccessReader}
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	decision := delegation.Decision{Allowed: true, Reason: "Authorized"}
	s.Require().NoError(s.store.Set(ctx, 0, s.key(), decision, time.Minute))

	got, err := s.store.Get(ctx, 0, s.key())
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(decision, *got)
}

func (s *RedisStoreSuite) TestMissReturnsNil() {
	got, err := s.store.Get(context.Background(), 0, s.key())
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *RedisStoreSuite) TestTTLExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, 0, s.key(), delegation.Decision{Allowed: false, Reason: "denied"}, 50*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	got, err := s.store.Get(ctx, 0, s.key())
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *RedisStoreSuite) TestEpochKeyCarriesTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.BumpEpoch(ctx, "task:t1"))

	// Revoked tasks are terminal; the epoch key must not live forever.
	ttl, err := s.redis.Client.TTL(ctx, "delego:epoch:task:t1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Hour)
	s.LessOrEqual(ttl, 24*time.Hour)
}

func (s *RedisStoreSuite) TestEpochBumpOrphansOldEntries() {
	ctx := context.Background()
	s.Require().NoError(s.store.Set(ctx, 0, s.key(), delegation.Decision{Allowed: true, Reason: "Authorized"}, time.Minute))

	epoch, err := s.store.Epoch(ctx, "task:t1")
	s.Require().NoError(err)
	s.Equal(uint64(0), epoch)

	s.Require().NoError(s.store.BumpEpoch(ctx, "task:t1"))
	epoch, err = s.store.Epoch(ctx, "task:t1")
	s.Require().NoError(err)
	s.Equal(uint64(1), epoch)

	// The old entry is unreachable under the new epoch.
	got, err := s.store.Get(ctx, epoch, s.key())
	s.Require().NoError(err)
	s.Nil(got)

	// A write that raced the bump lands under the stale epoch and stays
	// invisible.
	s.Require().NoError(s.store.Set(ctx, 0, s.key(), delegation.Decision{Allowed: true, Reason: "Authorized"}, time.Minute))
	got, err = s.store.Get(ctx, epoch, s.key())
	s.Require().NoError(err)
	s.Nil(got)
}
