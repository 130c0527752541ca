package server

import (
	"sync"
	"time"
)

const defaultIdempotencyTTL = 10 * time.Minute

// IdempotencyStore remembers recently seen Idempotency-Key values so a
// retried resume request does not run the ingestion side effect twice.
// In-process with TTL, reaped lazily.
type IdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &IdempotencyStore{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Claim records the key and reports whether this is its first use
// within the TTL window. An empty key is always a fresh claim.
func (s *IdempotencyStore) Claim(key string) bool {
	if key == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, k)
		}
	}

	if _, seen := s.entries[key]; seen {
		return false
	}
	s.entries[key] = now.Add(s.ttl)
	return true
}
