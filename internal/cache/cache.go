// Package cache provides the shared TTL key-value store that backs all
// price and rate lookups. Entries expire lazily on read and are also
// removed by a periodic background sweep.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dpatwari/tokenworth/internal/observ"
)

// Store is a mutex-guarded map with per-entry TTL. A single instance
// is constructed at startup and injected into every consumer; there is
// no package-level singleton.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
}

type entry struct {
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Test helper.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Set stores or overwrites a value unconditionally.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: value, insertedAt: s.clock(), ttl: ttl}
	observ.IncCounter("cache_set_total", nil)
}

// Get returns the value for key. An expired entry is removed and
// reported as missing, independent of the periodic sweep.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	now := s.clock()
	s.mu.RUnlock()

	if !ok {
		observ.IncCounter("cache_miss_total", nil)
		return nil, false
	}
	if now.Sub(e.insertedAt) > e.ttl {
		s.mu.Lock()
		// Re-check under the write lock; the entry may have been
		// overwritten with a fresh value in the meantime.
		if cur, still := s.entries[key]; still && cur.insertedAt.Equal(e.insertedAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		observ.IncCounter("cache_expired_total", nil)
		return nil, false
	}
	observ.IncCounter("cache_hit_total", nil)
	return e.value, true
}

// Has reports whether key holds an unexpired entry.
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return Stats{Size: len(s.entries), Keys: keys}
}

// StartSweeper launches the background eviction loop. It bounds memory
// for keys that are never re-read and stops when ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := s.sweep(); evicted > 0 {
					observ.Log("cache_sweep", map[string]any{"evicted": evicted})
				}
			}
		}
	}()
}

func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	evicted := 0
	for k, e := range s.entries {
		if now.Sub(e.insertedAt) > e.ttl {
			delete(s.entries, k)
			evicted++
		}
	}
	if evicted > 0 {
		observ.IncCounterBy("cache_evictions_total", nil, int64(evicted))
	}
	return evicted
}
