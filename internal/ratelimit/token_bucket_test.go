package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, 10, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	require.Error(t, err)
	_, err = NewRedisTokenBucket(client, 10, 0, "")
	require.Error(t, err)

	bucket, err := NewRedisTokenBucket(client, 10, time.Minute, " ")
	require.NoError(t, err)
	assert.Equal(t, "pixelpipe:ratelimit", bucket.keyPrefix)
	assert.Equal(t, int64(10), bucket.Capacity())
}

func TestAllowRejectsOversizedCostWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	bucket, err := NewRedisTokenBucket(client, 100, time.Minute, "test")
	require.NoError(t, err)

	_, err = bucket.Allow(context.Background(), "user-1", 101)
	require.ErrorIs(t, err, ErrCostExceedsCapacity)
}

func TestDecode(t *testing.T) {
	d, err := decode([]int64{1, 900, 0})
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Remaining: 900}, d)

	d, err = decode([]int64{0, 12, 1500})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)

	_, err = decode([]int64{1})
	require.Error(t, err)
}

func TestKeyDefaultsSubject(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	bucket, err := NewRedisTokenBucket(client, 10, time.Minute, "")
	require.NoError(t, err)
	assert.Equal(t, "pixelpipe:ratelimit:pixels:anonymous", bucket.key("  "))
	assert.Equal(t, "pixelpipe:ratelimit:pixels:alice", bucket.key("alice"))
}
