package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultSourceTimeout = 2 * time.Second

// Store holds the current policy set as an immutable snapshot. Readers load
// the snapshot without locking; writers build a new set and swap it in.
//
// Sets returned by Snapshot are shared and must not be modified.
type Store struct {
	current atomic.Pointer[Set]
	source  Source
	logger  *zap.Logger
	timeout time.Duration

	// serializes Load and Update so a merge never starts from a stale base
	writeMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for load failures.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSourceTimeout bounds every call to the durable source.
func WithSourceTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewStore(defaults *Set, source Source, opts ...StoreOption) *Store {
	s := &Store{
		source:  source,
		logger:  zap.NewNop(),
		timeout: defaultSourceTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(defaults)
	return s
}

// Snapshot returns the current policy set.
func (s *Store) Snapshot() *Set {
	return s.current.Load()
}

// Load merges the persisted document shallowly over the current set. Any
// failure (unreachable source, missing or invalid document) keeps the current
// set and is only logged, so Load never blocks startup.
func (s *Store) Load(ctx context.Context) *Set {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.source.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.Snapshot()
	}
	if err != nil {
		s.logger.Warn("policy load failed, keeping current policies", zap.Error(err))
		return s.Snapshot()
	}

	patch, err := decodeDocument(raw)
	if err == nil {
		err = Validate(patch, false)
	}
	if err != nil {
		s.logger.Warn("persisted policies rejected, keeping current policies", zap.Error(err))
		return s.Snapshot()
	}

	next := s.Snapshot().merge(patch)
	s.current.Store(next)
	return next
}

// Update validates p, merges it shallowly into the current set, persists the
// full result and then publishes it. Global is required.
//
// A *ValidationError leaves the state unchanged. So does a failed write to the
// durable source, which is returned wrapped.
func (s *Store) Update(ctx context.Context, p Patch) (*Set, error) {
	if err := Validate(p, true); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot().merge(p)
	doc, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode policies: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.source.Put(ctx, doc); err != nil {
		return nil, fmt.Errorf("persist policies: %w", err)
	}

	s.current.Store(next)
	return next, nil
}
