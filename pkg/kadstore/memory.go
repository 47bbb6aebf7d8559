// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Expiry is not automatic: callers
// must periodically invoke Retain to prune records whose TTL has passed.
type MemoryStore struct {
	mu      sync.Mutex
	config  Config
	records map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore bounded by config.
func NewMemoryStore(config Config) *MemoryStore {
	return &MemoryStore{
		config:  config,
		records: make(map[string]*Record),
	}
}

// Put overwrites any existing record at record.Key.
func (s *MemoryStore) Put(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxRecords > 0 && len(s.records) >= s.config.MaxRecords {
		if _, exists := s.records[string(record.Key)]; !exists {
			return Error.New("record store full: %d records", s.config.MaxRecords)
		}
	}
	s.records[string(record.Key)] = record.Clone()
	return nil
}

// Get returns the record at key, or nil if absent or expired. Expired
// records are filtered here the same way DiskStore.Get filters them;
// they still occupy space until the next Retain pass physically drops
// them, but are never returned to a caller.
func (s *MemoryStore) Get(key []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[string(key)]
	if !ok {
		return nil, nil
	}
	if rec.Expired(time.Now()) {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Remove deletes the record at key, if any.
func (s *MemoryStore) Remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, string(key))
	return nil
}

// Records returns every record currently held.
func (s *MemoryStore) Records() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Retain keeps only the records for which predicate returns true.
func (s *MemoryStore) Retain(predicate func(*Record) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.records {
		if !predicate(rec) {
			delete(s.records, k)
			removed++
		}
	}
	return removed, nil
}

// Shrink is advisory for the memory store: Go maps do not expose a way to
// release backing storage short of reallocating, so it rebuilds the
// underlying map to drop the capacity overhead left by prior deletions.
func (s *MemoryStore) Shrink() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rebuilt := make(map[string]*Record, len(s.records))
	for k, v := range s.records {
		rebuilt[k] = v
	}
	s.records = rebuilt
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
