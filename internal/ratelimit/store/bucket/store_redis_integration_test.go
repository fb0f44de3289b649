//go:build integration

package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"complyd/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisBucketStore
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.store = NewRedisBucketStore(s.redis.Client)
	s.Require().NoError(s.redis.Client.FlushAll(s.ctx).Err())
}

func (s *RedisBucketStoreSuite) TestLimitIsSharedThroughRedis() {
	other := NewRedisBucketStore(s.redis.Client)

	res, err := s.store.Allow(s.ctx, "submit:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining)

	res, err = other.Allow(s.ctx, "submit:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)

	res, err = s.store.Allow(s.ctx, "submit:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)
}

func (s *RedisBucketStoreSuite) TestWindowExpires() {
	res, err := s.store.Allow(s.ctx, "submit:10.0.0.9", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(res.Allowed)

	s.Eventually(func() bool {
		res, err := s.store.Allow(s.ctx, "submit:10.0.0.9", 1, 200*time.Millisecond)
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}
