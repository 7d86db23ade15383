package exercise

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when an exercise id is unknown
var ErrNotFound = errors.New("exercise not found")

// Store looks up exercises by id
type Store interface {
	Get(ctx context.Context, id string) (*Exercise, error)
}

// MemoryStore is a Store backed by a map. It is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	exercises map[string]*Exercise
}

// NewMemoryStore creates a MemoryStore holding the given exercises
func NewMemoryStore(exercises ...*Exercise) (*MemoryStore, error) {
	s := &MemoryStore{exercises: make(map[string]*Exercise, len(exercises))}
	for _, e := range exercises {
		if err := s.Put(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put validates and stores e, replacing an exercise with the same id
func (s *MemoryStore) Put(e *Exercise) error {
	if err := e.normalize(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exercises[e.ID] = e
	return nil
}

// Get returns the exercise with the given id
func (s *MemoryStore) Get(_ context.Context, id string) (*Exercise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exercises[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Len returns the number of exercises held
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exercises)
}
