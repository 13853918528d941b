package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store using a sliding window of attempt
// timestamps. State does not survive restarts.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	locks    map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		attempts: make(map[string][]time.Time),
		locks:    make(map[string]time.Time),
		now:      now,
	}
}

// Locked implements Store.
func (s *MemoryStore) Locked(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.locks[key]
	if !ok {
		return 0, false, nil
	}
	now := s.now()
	if !now.Before(until) {
		delete(s.locks, key)
		delete(s.attempts, key)
		return 0, false, nil
	}
	return until.Sub(now), true, nil
}

// RecordFailure implements Store.
func (s *MemoryStore) RecordFailure(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	valid := prune(s.attempts[key], now.Add(-window))
	valid = append(valid, now)
	s.attempts[key] = valid
	return len(valid), nil
}

// Lock implements Store.
func (s *MemoryStore) Lock(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks[key] = s.now().Add(d)
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, key)
	delete(s.locks, key)
	return nil
}

// Cleanup drops expired lockouts and attempts older than window.
func (s *MemoryStore) Cleanup(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, until := range s.locks {
		if !now.Before(until) {
			delete(s.locks, key)
		}
	}
	for key, times := range s.attempts {
		valid := prune(times, now.Add(-window))
		if len(valid) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = valid
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *MemoryStore) RunCleanup(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(window)
		}
	}
}

func prune(times []time.Time, windowStart time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}
