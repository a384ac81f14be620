package limiter

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed token_bucket.lua
var tokenBucketSource string

var tokenBucketScript = redis.NewScript(tokenBucketSource)

const (
	defaultPrefix  = "rl:"
	defaultTimeout = 250 * time.Millisecond
)

// RedisLimiter runs the token-bucket protocol as a single Lua script, so
// concurrent Apply calls on one key are serialized by Redis.
type RedisLimiter struct {
	client   redis.Scripter
	prefix   string
	timeout  time.Duration
	recorder MetricsRecorder
}

// Option configures a RedisLimiter.
type Option func(*RedisLimiter)

// WithPrefix sets the key prefix (default "rl:").
func WithPrefix(prefix string) Option {
	return func(r *RedisLimiter) { r.prefix = prefix }
}

// WithTimeout bounds every script round trip (default 250ms).
func WithTimeout(d time.Duration) Option {
	return func(r *RedisLimiter) { r.timeout = d }
}

// WithRecorder injects a metrics backend.
func WithRecorder(rec MetricsRecorder) Option {
	return func(r *RedisLimiter) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func NewRedisLimiter(client redis.Scripter, opts ...Option) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("limiter: nil redis client")
	}
	r := &RedisLimiter{
		client:   client,
		prefix:   defaultPrefix,
		timeout:  defaultTimeout,
		recorder: &NoOpMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout <= 0 {
		return nil, fmt.Errorf("limiter: timeout must be positive, got %s", r.timeout)
	}
	return r, nil
}

// Apply consumes limit.Cost tokens from the bucket under key if available.
//
// The script runs on a context detached from ctx's cancellation: once sent, a
// token that was consumed stays consumed even if the caller went away. The
// configured timeout still applies. Any store failure is returned as a
// *StoreUnavailableError.
func (r *RedisLimiter) Apply(ctx context.Context, key string, limit Limit, now time.Time) (Decision, error) {
	limit = limit.normalized()
	fullKey := r.prefix + key

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	start := time.Now()
	values, err := tokenBucketScript.Run(callCtx, r.client, []string{fullKey},
		limit.Capacity,     // ARGV[1]
		limit.RefillPerSec, // ARGV[2]
		now.UnixMilli(),    // ARGV[3]
		limit.Cost,         // ARGV[4]
		limit.ttlSeconds(), // ARGV[5]
	).Slice()
	latency := time.Since(start).Seconds()

	if err != nil {
		r.record("error", latency)
		return Decision{}, &StoreUnavailableError{Key: fullKey, Err: err}
	}
	if len(values) != 3 {
		r.record("error", latency)
		return Decision{}, &StoreUnavailableError{Key: fullKey, Err: fmt.Errorf("invalid lua response: %v", values)}
	}

	allowed := convertToFloat(values[0]) == 1
	if allowed {
		r.record("allowed", latency)
	} else {
		r.record("denied", latency)
	}

	return Decision{
		Allow:     allowed,
		Remaining: convertToFloat(values[1]),
		ResetTime: time.UnixMilli(int64(convertToFloat(values[2]))),
	}, nil
}

func (r *RedisLimiter) record(result string, latency float64) {
	tags := map[string]string{"result": result}
	r.recorder.Add(MetricCall, 1, tags)
	r.recorder.Observe(MetricLatency, latency, tags)
}

func convertToFloat(val interface{}) float64 {
	switch v := val.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
