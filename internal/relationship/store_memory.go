package relationship

import (
	"context"
	"sync"
)

// InMemoryStore implements Store with a mutex-guarded set. Batches apply
// under a single lock acquisition, which gives the all-or-nothing
// visibility the Store contract requires. Suitable for tests and
// single-process deployments; use PostgresStore otherwise.
type InMemoryStore struct {
	mu     sync.RWMutex
	tuples map[Tuple]struct{}
}

// NewInMemoryStore creates an empty in-memory tuple store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tuples: make(map[Tuple]struct{})}
}

func (s *InMemoryStore) WriteBatch(_ context.Context, tuples []Tuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tuples {
		s.tuples[t] = struct{}{}
	}
	return nil
}

func (s *InMemoryStore) DeleteBatch(_ context.Context, tuples []Tuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tuples {
		delete(s.tuples, t)
	}
	return nil
}

func (s *InMemoryStore) CheckTuple(_ context.Context, subject, relation, object string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tuples[Tuple{Subject: subject, Relation: relation, Object: object}]
	return ok, nil
}

func (s *InMemoryStore) ReadTuples(_ context.Context, filter Filter) ([]Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Tuple
	for t := range s.tuples {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Len returns the number of stored tuples. Test helper.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tuples)
}
