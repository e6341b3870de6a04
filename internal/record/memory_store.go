package record

import (
	"context"
	"sync"
)

// InMemoryStore is a Store implementation with optimistic version checking.
// It backs tests and single-process deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Create inserts a fresh unlocked record at version 0. Creation belongs to the
// chat layer, not the updater; this mirrors that collaborator.
func (s *InMemoryStore) Create(_ context.Context, id string, fields map[string]any) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &Record{ID: id, Fields: fields}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	s.records[id] = rec.Clone()
	return rec
}

// Get returns a deep copy of the stored record.
func (s *InMemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Update persists rec if its version still matches the stored one, then bumps
// the stored version. The caller's copy is not updated; re-fetch to observe it.
func (s *InMemoryStore) Update(_ context.Context, id string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != rec.Version {
		return ErrVersionConflict
	}
	next := rec.Clone()
	next.ID = id
	next.Version = stored.Version + 1
	s.records[id] = next
	return nil
}
