//go:build integration

package relationship_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"delego/internal/relationship"
	"delego/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *relationship.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = relationship.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "relationship_tuples"))
}

func taskBatch() []relationship.Tuple {
	return []relationship.Tuple{
		{Subject: "user:alice", Relation: "delegator", Object: "task:t1"},
		{Subject: "agent:helper", Relation: "assignee", Object: "task:t1"},
		{Subject: "task:t1", Relation: "reader", Object: "resource:doc1"},
	}
}

func (s *PostgresStoreSuite) TestWriteAndCheck() {
	ctx := context.Background()
	s.Require().NoError(s.store.WriteBatch(ctx, taskBatch()))

	ok, err := s.store.CheckTuple(ctx, "agent:helper", "assignee", "task:t1")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.CheckTuple(ctx, "agent:other", "assignee", "task:t1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestRewriteIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.store.WriteBatch(ctx, taskBatch()))
	s.Require().NoError(s.store.WriteBatch(ctx, taskBatch()))

	tuples, err := s.store.ReadTuples(ctx, relationship.Filter{})
	s.Require().NoError(err)
	s.Len(tuples, 3)
}

func (s *PostgresStoreSuite) TestDeleteBatch() {
	ctx := context.Background()
	batch := taskBatch()
	s.Require().NoError(s.store.WriteBatch(ctx, batch))
	s.Require().NoError(s.store.DeleteBatch(ctx, batch))

	tuples, err := s.store.ReadTuples(ctx, relationship.Filter{})
	s.Require().NoError(err)
	s.Empty(tuples)

	// Deleting absent tuples is a no-op.
	s.NoError(s.store.DeleteBatch(ctx, batch))
}

func (s *PostgresStoreSuite) TestReadTuplesFilters() {
	ctx := context.Background()
	s.Require().NoError(s.store.WriteBatch(ctx, taskBatch()))
	s.Require().NoError(s.store.WriteBatch(ctx, []relationship.Tuple{
		{Subject: "task:t2", Relation: "writer", Object: "resource:doc1"},
	}))

	byObject, err := s.store.ReadTuples(ctx, relationship.Filter{Object: "task:t1"})
	s.Require().NoError(err)
	s.Len(byObject, 2)

	bySubject, err := s.store.ReadTuples(ctx, relationship.Filter{Subject: "task:t1"})
	s.Require().NoError(err)
	s.Len(bySubject, 1)

	byRelation, err := s.store.ReadTuples(ctx, relationship.Filter{Relation: "writer"})
	s.Require().NoError(err)
	s.Len(byRelation, 1)
}
