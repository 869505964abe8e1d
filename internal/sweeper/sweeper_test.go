package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"delego/internal/delegation/models"
	"delego/pkg/domain"
	"delego/pkg/platform/audit"
)

type stubEngine struct {
	expired  []domain.TaskID
	listErr  error
	failOn   map[domain.TaskID]error
	revoked  []domain.TaskID
	attempts int
}

func (s *stubEngine) ListExpiredTaskIDs(context.Context) ([]domain.TaskID, error) {
	return s.expired, s.listErr
}

func (s *stubEngine) RevokeTask(_ context.Context, taskID domain.TaskID) (models.RevokeResult, error) {
	s.attempts++
	if err := s.failOn[taskID]; err != nil {
		return models.RevokeResult{}, err
	}
	s.revoked = append(s.revoked, taskID)
	return models.RevokeResult{TaskID: taskID, TuplesRevoked: 3}, nil
}

type emitRecorder struct {
	events []audit.Event
}

func (r *emitRecorder) Emit(_ context.Context, event audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

type SweeperSuite struct {
	suite.Suite

	engine   *stubEngine
	recorder *emitRecorder
	sweeper  *Sweeper
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) SetupTest() {
	s.engine = &stubEngine{failOn: map[domain.TaskID]error{}}
	s.recorder = &emitRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sweeper = New(s.engine, s.recorder, logger)
}

func (s *SweeperSuite) TestRevokesAllExpired() {
	s.engine.expired = []domain.TaskID{"task:a", "task:b"}

	result, err := s.sweeper.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{Expired: 2, Revoked: 2}, result)
	s.ElementsMatch([]domain.TaskID{"task:a", "task:b"}, s.engine.revoked)

	s.Require().Len(s.recorder.events, 1)
	s.Equal(audit.EventSweepCompleted, s.recorder.events[0].Kind)
	s.Equal(2, s.recorder.events[0].Metadata["revoked"])
}

func (s *SweeperSuite) TestOneFailureDoesNotAbortTheSweep() {
	s.engine.expired = []domain.TaskID{"task:a", "task:b", "task:c"}
	s.engine.failOn["task:b"] = errors.New("store down")

	result, err := s.sweeper.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{Expired: 3, Revoked: 2, Failures: 1}, result)
	s.Equal(3, s.engine.attempts)
	s.ElementsMatch([]domain.TaskID{"task:a", "task:c"}, s.engine.revoked)
}

func (s *SweeperSuite) TestEmptySweepIsSilent() {
	result, err := s.sweeper.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{}, result)
	s.Empty(s.recorder.events)
}

func (s *SweeperSuite) TestListFailureSurfaces() {
	s.engine.listErr = errors.New("metadata down")
	_, err := s.sweeper.RunOnce(context.Background())
	s.ErrorIs(err, s.engine.listErr)
}
