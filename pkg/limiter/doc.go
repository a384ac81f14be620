// Package limiter implements the distributed token-bucket protocol used for
// admission decisions.
//
// The primary entry point is the Bucket interface:
//
//	dec, err := bucket.Apply(ctx, limiter.Key(route, identityID), limit, time.Now())
//
// The returned Decision reports whether the request is allowed, the (float)
// token balance left after the decision, and the wall-clock time at which the
// bucket can pay limit.Cost again.
//
// # Protocol
//
// For a given key, one Apply call performs, indivisibly:
//
//   - read the stored (tokens, last_refill_ms); a missing bucket starts full
//   - refill continuously: tokens = min(capacity, tokens + elapsed*refill)
//   - if tokens >= cost, deduct cost and allow; otherwise deny and leave
//     tokens unchanged
//   - store (tokens, now_ms) and reset the key's TTL
//   - ResetTime is now when tokens >= cost, else
//     now + ceil((cost-tokens)/refill) seconds
//
// Tokens never go negative and never exceed capacity. A bucket idle for longer
// than its TTL disappears and the caller starts over with a full bucket.
//
// # Backends
//
//   - RedisLimiter: runs the protocol as a Lua script (token_bucket.lua)
//     through EVALSHA, falling back to EVAL on NOSCRIPT. Redis executes the
//     script atomically, which is the only serialization point between
//     replicas.
//
//   - MemoryLimiter: the same protocol behind a mutex, for single-instance
//     deployments and tests.
//
// # Context and Error Policy
//
// RedisLimiter runs the script on a context detached from the caller's
// cancellation and bounded by its own timeout: an aborted request never
// rolls back or interrupts a consumed token. Failures are returned as
// *StoreUnavailableError (matching ErrStoreUnavailable). This package does not
// decide between failing open or closed; the admission layer does.
//
// # Storage Details
//
// RedisLimiter stores state under "<prefix><key>" (prefix defaults to "rl:")
// in a hash with two fields:
//
//   - "tokens": current token balance (float)
//   - "last_refill_ms": last update time in milliseconds since epoch
//
// # Configuration
//
//	l, _ := limiter.NewRedisLimiter(client,
//		limiter.WithPrefix("myapp:rl:"),
//		limiter.WithTimeout(100*time.Millisecond),
//		limiter.WithRecorder(myMetrics),
//	)
package limiter
