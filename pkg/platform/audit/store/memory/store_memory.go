package memory

import (
	"context"
	"sync"

	"delego/pkg/domain"
	audit "delego/pkg/platform/audit"
)

// InMemoryStore keeps audit events in process memory, indexed by agent and
// task for the query paths hosts actually use. Suitable for tests and
// single-process deployments; use the postgres store otherwise.
type InMemoryStore struct {
	mu      sync.RWMutex
	all     []audit.Event
	byAgent map[domain.AgentID][]int
	byTask  map[domain.TaskID][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byAgent: make(map[domain.AgentID][]int),
		byTask:  make(map[domain.TaskID][]int),
	}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.all)
	s.all = append(s.all, event)
	if !event.AgentID.IsNil() {
		s.byAgent[event.AgentID] = append(s.byAgent[event.AgentID], idx)
	}
	if !event.TaskID.IsNil() {
		s.byTask[event.TaskID] = append(s.byTask[event.TaskID], idx)
	}
	return nil
}

func (s *InMemoryStore) ListByAgent(_ context.Context, agentID domain.AgentID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byAgent[agentID]), nil
}

func (s *InMemoryStore) ListByTask(_ context.Context, taskID domain.TaskID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byTask[taskID]), nil
}

// ListRecent returns the most recent N events in append order. A limit of
// zero or less returns nothing.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit < 0 {
		limit = 0
	}
	start := len(s.all) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Event{}, s.all[start:]...), nil
}

// Clear drops all events. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = nil
	s.byAgent = make(map[domain.AgentID][]int)
	s.byTask = make(map[domain.TaskID][]int)
}

func (s *InMemoryStore) collect(idxs []int) []audit.Event {
	events := make([]audit.Event, 0, len(idxs))
	for _, i := range idxs {
		events = append(events, s.all[i])
	}
	return events
}
