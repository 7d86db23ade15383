package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned by Store.Get when no submission was recorded yet
var ErrRecordNotFound = errors.New("progress record not found")

// UpdateFunc mutates the record inside a store transaction. exists is false
// when the record is being created; rec then carries only its key.
type UpdateFunc func(rec *Record, exists bool) error

// Store persists progress records and submission history
type Store interface {
	// Apply appends entry and upserts the record for its key in a single
	// transaction. Nothing is written when update or the store fails.
	Apply(ctx context.Context, entry HistoryEntry, update UpdateFunc) (Record, error)
	Get(ctx context.Context, submitter, exerciseID string) (Record, error)
	// History returns entries newest first; limit <= 0 returns all
	History(ctx context.Context, submitter, exerciseID string, limit int) ([]HistoryEntry, error)
}

type recordKey struct {
	submitter string
	exercise  string
}

// MemoryStore is an in-process Store for tests and single-node development
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	history []HistoryEntry
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record)}
}

// Apply implements Store
func (s *MemoryStore) Apply(ctx context.Context, entry HistoryEntry, update UpdateFunc) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{entry.Submitter, entry.Exercise}
	rec, exists := s.records[key]
	if !exists {
		rec = Record{Submitter: entry.Submitter, Exercise: entry.Exercise}
	}
	if err := update(&rec, exists); err != nil {
		return Record{}, fmt.Errorf("update progress: %w", err)
	}

	s.history = append(s.history, entry)
	s.records[key] = rec
	return rec, nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, submitter, exerciseID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{submitter, exerciseID}]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// History implements Store
func (s *MemoryStore) History(_ context.Context, submitter, exerciseID string, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if e := s.history[i]; e.Submitter == submitter && e.Exercise == exerciseID {
			out = append(out, e)
		}
	}
	// entries sharing a timestamp stay newest first
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
