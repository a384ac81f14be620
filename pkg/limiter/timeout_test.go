package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_CallerCancellationDoesNotAbortScript(t *testing.T) {
	s, client := newTestRedis(t)
	limiter, _ := NewRedisLimiter(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	limit := Limit{Capacity: 1, RefillPerSec: 1, Cost: 1, TTL: time.Minute}
	dec, err := limiter.Apply(ctx, "user_cancel", limit, epoch)
	require.NoError(t, err)
	assert.True(t, dec.Allow)
	assert.Equal(t, "0", s.HGet("rl:user_cancel", "tokens"), "the consumed token stays consumed")
}

func TestRedisLimiter_UnreachableStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	limiter, _ := NewRedisLimiter(client, WithTimeout(100*time.Millisecond))
	limit := Limit{Capacity: 100, RefillPerSec: 100, Cost: 1, TTL: time.Minute}

	start := time.Now()
	_, err := limiter.Apply(context.Background(), "user_deadline", limit, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second)
}
