package limiter

import (
	"context"
	"time"
)

// Limit is the effective bucket configuration for a single Apply call.
type Limit struct {
	Capacity     int64
	RefillPerSec float64
	Cost         int64
	TTL          time.Duration
}

// Decision is the outcome of one atomic bucket update.
type Decision struct {
	Allow     bool
	Remaining float64
	ResetTime time.Time
}

// Bucket applies the token-bucket protocol to the state stored under key.
type Bucket interface {
	Apply(ctx context.Context, key string, limit Limit, now time.Time) (Decision, error)
}

// Key builds the bucket key for a route and identity. Both parts are wrapped in
// braces so Redis Cluster hashes every bucket of a route to the same slot.
func Key(route, identityID string) string {
	return "{" + route + "}:{" + identityID + "}"
}

func (l Limit) normalized() Limit {
	if l.Cost < 1 {
		l.Cost = 1
	}
	if l.TTL <= 0 {
		l.TTL = DefaultTTL
	}
	return l
}

func (l Limit) ttlSeconds() int64 {
	s := int64(l.TTL / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// DefaultTTL is used when a Limit carries no TTL.
const DefaultTTL = 120 * time.Second
