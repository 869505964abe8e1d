package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"delego/internal/delegation"
	"delego/internal/delegation/models"
	"delego/internal/delegation/store"
	"delego/internal/relationship"
	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
	"delego/pkg/platform/audit"
)

type auditRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *auditRecorder) Emit(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *auditRecorder) byKind(kind audit.Kind) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *auditRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// flakyStore wraps the in-memory relationship store and fails selected
// operations.
type flakyStore struct {
	*relationship.InMemoryStore
	failChecks  bool
	failWrites  bool
	failDeletes bool
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) CheckTuple(ctx context.Context, subject, relation, object string) (bool, error) {
	if f.failChecks {
		return false, errStoreDown
	}
	return f.InMemoryStore.CheckTuple(ctx, subject, relation, object)
}

func (f *flakyStore) WriteBatch(ctx context.Context, tuples []relationship.Tuple) error {
	if f.failWrites {
		return errStoreDown
	}
	return f.InMemoryStore.WriteBatch(ctx, tuples)
}

func (f *flakyStore) DeleteBatch(ctx context.Context, tuples []relationship.Tuple) error {
	if f.failDeletes {
		return errStoreDown
	}
	return f.InMemoryStore.DeleteBatch(ctx, tuples)
}

// failingMetadata rejects writes after the first failCount calls succeed.
type failingMetadata struct {
	*store.InMemoryStore
	failPuts int
}

func (f *failingMetadata) Put(ctx context.Context, task *models.Task) error {
	if f.failPuts > 0 {
		f.failPuts--
		return errStoreDown
	}
	return f.InMemoryStore.Put(ctx, task)
}

type EngineSuite struct {
	suite.Suite

	rel      *flakyStore
	meta     *failingMetadata
	recorder *auditRecorder
	engine   *Engine
	now      time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.rel = &flakyStore{InMemoryStore: relationship.NewInMemoryStore()}
	s.meta = &failingMetadata{InMemoryStore: store.NewInMemoryStore()}
	s.recorder = &auditRecorder{}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.engine = New(s.rel, s.meta, s.recorder, logger,
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *EngineSuite) createTask(grants ...models.ResourceGrant) *models.Task {
	task, err := s.engine.CreateTask(context.Background(), CreateTaskInput{
		Delegator:   "alice",
		Agent:       "helper",
		Description: "summarize quarterly reports",
		Grants:      grants,
		TTL:         time.Hour,
	})
	s.Require().NoError(err)
	return task
}

func (s *EngineSuite) TestCreateTask() {
	s.Run("writes tuples and metadata", func() {
		task := s.createTask(models.ResourceGrant{Resource: "doc1", Access: domain.AccessReader})

		s.Equal(3, s.rel.Len())
		s.Equal(models.TaskStatusActive, task.Status)
		s.Equal(s.now.Add(time.Hour), task.ExpiresAt)

		stored, err := s.meta.Get(context.Background(), task.ID)
		s.Require().NoError(err)
		s.Equal(task.Delegator, stored.Delegator)
		s.Len(stored.Grants, 1)

		created := s.recorder.byKind(audit.EventDelegationCreated)
		s.Require().Len(created, 1)
		s.Equal(audit.DecisionAllowed, created[0].Decision)
		s.Equal(1, created[0].Metadata["resource_count"])
	})

	s.Run("zero ttl takes the default", func() {
		task, err := s.engine.CreateTask(context.Background(), CreateTaskInput{
			Delegator: "alice",
			Agent:     "helper",
		})
		s.Require().NoError(err)
		s.Equal(s.now.Add(DefaultTaskTTL), task.ExpiresAt)
	})

	s.Run("empty grants still creates the task", func() {
		before := s.rel.Len()
		task := s.createTask()
		s.Equal(before+2, s.rel.Len())

		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.False(decision.Allowed)
	})

	s.Run("rejects invalid input", func() {
		_, err := s.engine.CreateTask(context.Background(), CreateTaskInput{Agent: "helper"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.engine.CreateTask(context.Background(), CreateTaskInput{Delegator: "alice"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.engine.CreateTask(context.Background(), CreateTaskInput{
			Delegator: "alice", Agent: "helper", TTL: -time.Minute,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.engine.CreateTask(context.Background(), CreateTaskInput{
			Delegator: "alice", Agent: "helper",
			Grants: []models.ResourceGrant{{Resource: ""}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("metadata failure is retried once", func() {
		s.meta.failPuts = 1
		task := s.createTask()
		_, err := s.meta.Get(context.Background(), task.ID)
		s.NoError(err)
	})

	s.Run("persistent metadata failure compensates tuple writes", func() {
		s.meta.failPuts = 2
		before := s.rel.Len()
		_, err := s.engine.CreateTask(context.Background(), CreateTaskInput{
			Delegator: "alice",
			Agent:     "helper",
			Grants:    []models.ResourceGrant{{Resource: "doc1"}},
		})
		var metaErr *delegation.MetadataError
		s.Require().ErrorAs(err, &metaErr)
		s.Equal(before, s.rel.Len())
	})

	s.Run("tuple write failure surfaces as StoreWriteError", func() {
		s.rel.failWrites = true
		defer func() { s.rel.failWrites = false }()
		_, err := s.engine.CreateTask(context.Background(), CreateTaskInput{
			Delegator: "alice", Agent: "helper",
		})
		var writeErr *delegation.StoreWriteError
		s.ErrorAs(err, &writeErr)
	})
}

func (s *EngineSuite) TestCheckAccess() {
	task := s.createTask(
		models.ResourceGrant{Resource: "doc1", Access: domain.AccessReader},
		models.ResourceGrant{Resource: "repo1", Access: domain.AccessWriter},
	)
	s.recorder.reset()

	s.Run("authorized when assigned and granted", func() {
		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.True(decision.Allowed)
		s.Equal("Authorized", decision.Reason)

		allowed := s.recorder.byKind(audit.EventAccessChecked)
		s.Require().Len(allowed, 1)
		s.Equal(task.Delegator, allowed[0].PrincipalID)
	})

	s.Run("denies an unassigned agent", func() {
		decision, err := s.engine.CheckAccess(context.Background(), "other", task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.False(decision.Allowed)
		s.Equal("Agent not assigned to this task", decision.Reason)
	})

	s.Run("denies an ungranted resource", func() {
		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc2", domain.AccessReader)
		s.Require().NoError(err)
		s.False(decision.Allowed)
		s.Equal("Task does not have reader access to resource", decision.Reason)
	})

	s.Run("reader grant does not satisfy a writer check", func() {
		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessWriter)
		s.Require().NoError(err)
		s.False(decision.Allowed)
		s.Equal("Task does not have writer access to resource", decision.Reason)
	})

	s.Run("empty level defaults to reader", func() {
		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", "")
		s.Require().NoError(err)
		s.True(decision.Allowed)
	})

	s.Run("denies once the task expires", func() {
		s.now = task.ExpiresAt.Add(time.Second)
		defer func() { s.now = task.ExpiresAt.Add(-time.Hour) }()
		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.False(decision.Allowed)
	})

	s.Run("store failure is an error, never an allow", func() {
		s.rel.failChecks = true
		defer func() { s.rel.failChecks = false }()
		_, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		var readErr *delegation.StoreReadError
		s.ErrorAs(err, &readErr)
	})

	s.Run("rejects empty identifiers", func() {
		_, err := s.engine.CheckAccess(context.Background(), "", task.ID, "doc1", domain.AccessReader)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("every outcome emits exactly one event", func() {
		s.recorder.reset()
		_, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		_, err = s.engine.CheckAccess(context.Background(), "other", task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.Len(s.recorder.byKind(audit.EventAccessChecked), 1)
		s.Len(s.recorder.byKind(audit.EventAccessDenied), 1)
	})
}

func (s *EngineSuite) TestRevokeTask() {
	s.Run("removes every tuple for the task", func() {
		task := s.createTask(models.ResourceGrant{Resource: "doc1", Access: domain.AccessReader})

		result, err := s.engine.RevokeTask(context.Background(), task.ID)
		s.Require().NoError(err)
		s.Equal(3, result.TuplesRevoked)
		s.Equal(0, s.rel.Len())

		decision, err := s.engine.CheckAccess(context.Background(), task.Agent, task.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.False(decision.Allowed)
		s.Equal("Agent not assigned to this task", decision.Reason)

		revoked := s.recorder.byKind(audit.EventTaskRevoked)
		s.Require().Len(revoked, 1)
		s.Equal(3, revoked[0].Metadata["tuples_revoked"])
	})

	s.Run("is idempotent", func() {
		task := s.createTask()
		_, err := s.engine.RevokeTask(context.Background(), task.ID)
		s.Require().NoError(err)

		result, err := s.engine.RevokeTask(context.Background(), task.ID)
		s.Require().NoError(err)
		s.Equal(0, result.TuplesRevoked)
	})

	s.Run("unknown task is a no-op", func() {
		result, err := s.engine.RevokeTask(context.Background(), "task:nonexistent")
		s.Require().NoError(err)
		s.Equal(0, result.TuplesRevoked)
	})

	s.Run("leaves other tasks intact", func() {
		first := s.createTask(models.ResourceGrant{Resource: "doc1", Access: domain.AccessReader})
		second := s.createTask(models.ResourceGrant{Resource: "doc1", Access: domain.AccessReader})

		_, err := s.engine.RevokeTask(context.Background(), first.ID)
		s.Require().NoError(err)

		decision, err := s.engine.CheckAccess(context.Background(), second.Agent, second.ID, "doc1", domain.AccessReader)
		s.Require().NoError(err)
		s.True(decision.Allowed)
	})

	s.Run("delete failure surfaces as StoreWriteError", func() {
		task := s.createTask()
		s.rel.failDeletes = true
		defer func() { s.rel.failDeletes = false }()
		_, err := s.engine.RevokeTask(context.Background(), task.ID)
		var writeErr *delegation.StoreWriteError
		s.ErrorAs(err, &writeErr)
	})
}

func (s *EngineSuite) TestListExpiredTaskIDs() {
	fresh := s.createTask()
	stale, err := s.engine.CreateTask(context.Background(), CreateTaskInput{
		Delegator: "alice",
		Agent:     "helper",
		TTL:       time.Minute,
	})
	s.Require().NoError(err)

	s.now = s.now.Add(5 * time.Minute)
	expired, err := s.engine.ListExpiredTaskIDs(context.Background())
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(stale.ID, expired[0])
	s.NotEqual(fresh.ID, expired[0])
}

func (s *EngineSuite) TestGetTask() {
	task := s.createTask()

	got, err := s.engine.GetTask(context.Background(), task.ID)
	s.Require().NoError(err)
	s.Equal(task.ID, got.ID)

	_, err = s.engine.GetTask(context.Background(), "task:nonexistent")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
