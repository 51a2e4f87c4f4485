package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComputeFunc recomputes a value on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

type entry struct {
	value    any
	storedAt time.Time
}

// Store is a TTL key/value cache for one logical domain. Expiry is checked
// lazily on read; there is no background sweep and no size bound.
//
// Concurrent misses on the same key each run their own recomputation; the
// last write wins.
type Store struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	hits   atomic.Uint64
	misses atomic.Uint64

	logger zerolog.Logger
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(name string, ttl time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		name:    name,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
		logger:  log.With().Str("component", "cache").Str("domain", name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string       { return s.name }

// Get returns a live entry. Expired entries read as a miss.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.now().Sub(e.storedAt) >= s.ttl {
		return nil, false
	}
	return e.value, true
}

func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, storedAt: s.now()}
	s.mu.Unlock()
}

// GetOrCompute serves key from the cache when live, otherwise runs fn and
// caches its result. A failing fn leaves the cache untouched and its error is
// returned as is. The write is unconditional: a compute that started before an
// Invalidate can store its older result after it, and that value then lives
// until its TTL runs out or the next invalidation.
func (s *Store) GetOrCompute(ctx context.Context, key string, fn ComputeFunc, forceRefresh bool) (any, error) {
	if !forceRefresh {
		if v, ok := s.Get(key); ok {
			s.hits.Add(1)
			cacheHits.WithLabelValues(s.name).Inc()
			return v, nil
		}
	}
	s.misses.Add(1)
	cacheMisses.WithLabelValues(s.name).Inc()

	start := time.Now()
	v, err := fn(ctx)
	recomputeDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	if err != nil {
		recomputeErrors.WithLabelValues(s.name).Inc()
		s.logger.Debug().Err(err).Str("key", key).Msg("recompute failed")
		return nil, err
	}
	s.Set(key, v)
	return v, nil
}

func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InvalidatePrefix drops every key starting with prefix and reports how many
// were removed.
func (s *Store) InvalidatePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *Store) InvalidateAll() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	s.logger.Debug().Int("keys", n).Msg("cache flushed")
}

type Stats struct {
	Domain string        `json:"domain"`
	TTL    time.Duration `json:"ttl_ns"`
	Keys   int           `json:"keys"`
	Hits   uint64        `json:"hits"`
	Misses uint64        `json:"misses"`
}

// Stats counts stored keys, including expired ones not yet overwritten.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()
	return Stats{
		Domain: s.name,
		TTL:    s.ttl,
		Keys:   n,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
}

// Fetch is GetOrCompute with a typed result.
func Fetch[T any](ctx context.Context, s *Store, key string, fn func(ctx context.Context) (T, error), forceRefresh bool) (T, error) {
	v, err := s.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, forceRefresh)
	if err != nil {
		var zero T
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	var zero T
	return zero, fmt.Errorf("cache %s: key %q holds %T", s.name, key, v)
}
