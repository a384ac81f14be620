package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key holding the policy document.
const DefaultKey = "rate_limit:policies"

// ErrNotFound is returned by a Source that holds no document yet.
var ErrNotFound = errors.New("policy: document not found")

// Source is the durable home of the policy document.
type Source interface {
	Get(ctx context.Context) ([]byte, error)
	Put(ctx context.Context, doc []byte) error
}

// RedisSource keeps the document as a plain string under one key.
type RedisSource struct {
	client redis.Cmdable
	key    string
}

func NewRedisSource(client redis.Cmdable, key string) *RedisSource {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSource{client: client, key: key}
}

func (s *RedisSource) Get(ctx context.Context) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *RedisSource) Put(ctx context.Context, doc []byte) error {
	return s.client.Set(ctx, s.key, doc, 0).Err()
}

// MemorySource is a process-local Source.
type MemorySource struct {
	mu  sync.Mutex
	doc []byte
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) Get(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.doc...), nil
}

func (s *MemorySource) Put(ctx context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = append([]byte(nil), doc...)
	return nil
}
