// Package store provides task metadata stores. Metadata is an index over
// the relationship tuples (who delegated, when authority lapses); losing
// it never grants access, but it drives expiry sweeping and audit
// enrichment.
package store

import (
	"context"
	"sync"

	"delego/internal/delegation/models"
	"delego/pkg/domain"
	"delego/pkg/platform/sentinel"
)

// InMemoryStore keeps task metadata in process memory.
// Suitable for tests and single-process deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[domain.TaskID]models.Task
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tasks: make(map[domain.TaskID]models.Task)}
}

func (s *InMemoryStore) Put(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, taskID domain.TaskID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := task
	return &copied, nil
}

func (s *InMemoryStore) Delete(_ context.Context, taskID domain.TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		copied := task
		tasks = append(tasks, &copied)
	}
	return tasks, nil
}
