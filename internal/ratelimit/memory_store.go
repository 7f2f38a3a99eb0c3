package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultEvictThreshold = 10000

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is the process-local counter backend.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*memoryCounter
	threshold int
	now       func() time.Time
}

// NewMemoryStore creates an empty store. Expired entries are only swept when
// the map grows beyond evictThreshold.
func NewMemoryStore(evictThreshold int) *MemoryStore {
	if evictThreshold <= 0 {
		evictThreshold = defaultEvictThreshold
	}
	return &MemoryStore{
		counters:  make(map[string]*memoryCounter),
		threshold: evictThreshold,
		now:       time.Now,
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || !now.Before(counter.expiresAt) {
		if !ok && len(s.counters) >= s.threshold {
			s.evictExpired(now)
		}
		s.counters[key] = &memoryCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	counter.count++
	return counter.count, nil
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) evictExpired(now time.Time) {
	for key, counter := range s.counters {
		if !now.Before(counter.expiresAt) {
			delete(s.counters, key)
		}
	}
}
