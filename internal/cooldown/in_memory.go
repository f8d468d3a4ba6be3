package cooldown

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of the Store interface.
type InMemoryStore struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

// NewInMemoryStore creates a store with one use per key per window.
func NewInMemoryStore(window time.Duration) *InMemoryStore {
	return &InMemoryStore{
		window: window,
		until:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow consumes the key's slot if it is free.
func (s *InMemoryStore) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if s.window <= 0 {
		return true, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.until[key]; ok && now.Before(until) {
		return false, until.Sub(now)
	}
	s.until[key] = now.Add(s.window)
	return true, 0
}

// Sweep removes expired keys.
func (s *InMemoryStore) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, until := range s.until {
		if !now.Before(until) {
			delete(s.until, key)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *InMemoryStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
