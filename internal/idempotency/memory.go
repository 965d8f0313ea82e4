package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements Store with in-memory storage. Records are kept
// until DeleteOlderThan removes them.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func storeKey(scope, key string) string {
	return scope + "\x00" + key
}

// Get retrieves a stored response.
func (s *InMemoryStore) Get(_ context.Context, scope, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[storeKey(scope, key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyRecord(rec), nil
}

// Put stores a response unless one already exists for the key.
func (s *InMemoryStore) Put(_ context.Context, scope string, rec *Record) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(scope, rec.Key)
	if _, exists := s.records[k]; exists {
		return ErrKeyExists
	}
	stored := copyRecord(rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.records[k] = stored
	return nil
}

// DeleteOlderThan removes records created more than d ago and returns how
// many were removed.
func (s *InMemoryStore) DeleteOlderThan(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-d)
	deleted := 0
	for k, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, k)
			deleted++
		}
	}
	return deleted
}

func copyRecord(rec *Record) *Record {
	copied := *rec
	copied.Body = append([]byte(nil), rec.Body...)
	return &copied
}
