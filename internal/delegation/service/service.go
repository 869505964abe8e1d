// Package service implements the delegation engine: task creation, the
// two-phase access check, cascading revocation, and expiry tracking.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"delego/internal/delegation"
	"delego/internal/delegation/metrics"
	"delego/internal/delegation/models"
	"delego/internal/relationship"
	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
	"delego/pkg/platform/audit"
	"delego/pkg/platform/sentinel"
)

// DefaultTaskTTL bounds a delegation when the caller does not specify one.
const DefaultTaskTTL = 30 * time.Minute

// MetadataStore tracks task metadata: the index over why tuples exist.
type MetadataStore interface {
	Put(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, taskID domain.TaskID) (*models.Task, error)
	Delete(ctx context.Context, taskID domain.TaskID) error
	ListAll(ctx context.Context) ([]*models.Task, error)
}

// AuditPort records engine events. Matches audit.Emitter but is declared
// here to keep the engine's dependencies explicit.
type AuditPort interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Clock is an injected time source for testability.
type Clock func() time.Time

// Engine owns the delegation lifecycle. It enforces against the
// relationship store, which is the source of truth for access decisions;
// the metadata store only indexes expiry and provenance. Safe for
// concurrent use: the engine itself is stateless between calls.
type Engine struct {
	rel     relationship.Store
	meta    MetadataStore
	audit   AuditPort
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   Clock

	defaultTTL    time.Duration
	enforceExpiry bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the time source for testability.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaultTTL overrides the fallback task TTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.defaultTTL = ttl
		}
	}
}

// WithoutExpiryEnforcement disables the defense-in-depth expiry denial in
// CheckAccess, leaving expiry entirely to the sweeper.
func WithoutExpiryEnforcement() Option {
	return func(e *Engine) { e.enforceExpiry = false }
}

// New constructs the delegation engine.
func New(rel relationship.Store, meta MetadataStore, auditPort AuditPort, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		rel:           rel,
		meta:          meta,
		audit:         auditPort,
		logger:        logger,
		tracer:        otel.Tracer("delego/delegation"),
		clock:         time.Now,
		defaultTTL:    DefaultTaskTTL,
		enforceExpiry: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTaskInput carries everything needed to establish a delegation.
type CreateTaskInput struct {
	Delegator   domain.PrincipalID
	Agent       domain.AgentID
	Description string
	Grants      []models.ResourceGrant
	// TTL bounds the delegation. Zero selects the engine default;
	// negative is rejected.
	TTL time.Duration
}

// CreateTask establishes a task-scoped delegation from principal to agent.
// The delegator, assignee, and grant tuples are written as one atomic
// batch before metadata is persisted, so a metadata failure can never
// leave tracked metadata pointing at absent tuples. Grants may be empty:
// the task then exists but no access is possible.
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	ctx, span := e.tracer.Start(ctx, "delegation.CreateTask")
	defer span.End()

	if in.Delegator.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "delegator must not be empty")
	}
	if in.Agent.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "agent must not be empty")
	}
	if in.TTL < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "ttl must be positive")
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}

	grants := make([]models.ResourceGrant, 0, len(in.Grants))
	for _, g := range in.Grants {
		if g.Resource.IsNil() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "grant resource must not be empty")
		}
		level := g.Access.OrDefault()
		if _, err := domain.ParseAccessLevel(level.String()); err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, err.Error())
		}
		grants = append(grants, models.ResourceGrant{Resource: g.Resource, Access: level})
	}

	now := e.clock()
	task := &models.Task{
		ID:          domain.NewTaskID(),
		Delegator:   in.Delegator,
		Agent:       in.Agent,
		Description: in.Description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      models.TaskStatusActive,
		Grants:      grants,
	}
	span.SetAttributes(
		attribute.String("task.id", task.ID.String()),
		attribute.Int("task.grants", len(grants)),
	)

	tuples := task.Tuples()
	if err := e.rel.WriteBatch(ctx, tuples); err != nil {
		return nil, &delegation.StoreWriteError{Op: "create", Err: err}
	}

	if err := e.putMetadata(ctx, task); err != nil {
		// Visible tuples without a tracked expiry are the worse failure
		// mode: compensate by removing the authority we just wrote.
		if delErr := e.rel.DeleteBatch(ctx, tuples); delErr != nil {
			e.logger.ErrorContext(ctx, "compensating tuple delete failed after metadata failure",
				"task_id", task.ID,
				"error", delErr,
			)
		}
		return nil, &delegation.MetadataError{Op: "put", Err: err}
	}

	e.emit(ctx, audit.Event{
		Kind:        audit.EventDelegationCreated,
		PrincipalID: task.Delegator,
		AgentID:     task.Agent,
		TaskID:      task.ID,
		Decision:    audit.DecisionAllowed,
		Reason:      "Task delegation created",
		Metadata: map[string]any{
			"description":    task.Description,
			"ttl":            ttl.String(),
			"resource_count": len(grants),
		},
	})
	e.metrics.IncTasksCreated()
	return task, nil
}

// putMetadata writes task metadata, retrying once. The tuples are already
// visible at this point, so one transient metadata failure should not fail
// the whole delegation.
func (e *Engine) putMetadata(ctx context.Context, task *models.Task) error {
	err := e.meta.Put(ctx, task)
	if err == nil {
		return nil
	}
	e.logger.WarnContext(ctx, "task metadata write failed, retrying",
		"task_id", task.ID,
		"error", err,
	)
	return e.meta.Put(ctx, task)
}

// CheckAccess runs the two-phase check: is the agent assigned to the task,
// and does the task hold the access level on the resource. The phases stay
// separate so denials carry the phase that failed; an agent told "not
// assigned" behaves differently than one told the task lacks scope.
// Exactly one audit event is emitted per outcome. A store failure is
// returned as *delegation.StoreReadError and must be treated as a denial
// by fail-closed callers.
func (e *Engine) CheckAccess(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, resourceID domain.ResourceID, level domain.AccessLevel) (delegation.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "delegation.CheckAccess",
		trace.WithAttributes(
			attribute.String("task.id", taskID.String()),
			attribute.String("resource.id", resourceID.String()),
		))
	defer span.End()
	start := e.clock()

	if agentID.IsNil() || taskID.IsNil() || resourceID.IsNil() {
		return delegation.Decision{}, dErrors.New(dErrors.CodeBadRequest, "agent, task, and resource must not be empty")
	}
	level = level.OrDefault()

	// Defense in depth: an expired task is denied here even before the
	// sweeper revokes it, closing the window between expiry and the next
	// sweep. The tuple state stays authoritative for everything else.
	task := e.taskForAudit(ctx, taskID)
	if e.enforceExpiry && task != nil && task.Expired(e.clock()) {
		return e.deny(ctx, span, start, task, agentID, taskID, resourceID, level, "expiry", "Task has expired")
	}

	assigned := models.AssigneeTuple(agentID, taskID)
	ok, err := e.rel.CheckTuple(ctx, assigned.Subject, assigned.Relation, assigned.Object)
	if err != nil {
		return delegation.Decision{}, &delegation.StoreReadError{Op: "check assignment", Err: err}
	}
	if !ok {
		return e.deny(ctx, span, start, task, agentID, taskID, resourceID, level, "assignment", "Agent not assigned to this task")
	}

	grant := models.GrantTuple(taskID, level, resourceID)
	ok, err = e.rel.CheckTuple(ctx, grant.Subject, grant.Relation, grant.Object)
	if err != nil {
		return delegation.Decision{}, &delegation.StoreReadError{Op: "check grant", Err: err}
	}
	if !ok {
		reason := fmt.Sprintf("Task does not have %s access to resource", level)
		return e.deny(ctx, span, start, task, agentID, taskID, resourceID, level, "grant", reason)
	}

	e.emit(ctx, audit.Event{
		Kind:        audit.EventAccessChecked,
		PrincipalID: principalOf(task),
		AgentID:     agentID,
		TaskID:      taskID,
		ResourceID:  resourceID,
		Decision:    audit.DecisionAllowed,
		Reason:      "Authorized",
	})
	e.metrics.ObserveCheck("allowed", "none", e.clock().Sub(start))
	span.SetAttributes(attribute.Bool("decision.allowed", true))
	return delegation.Decision{Allowed: true, Reason: "Authorized"}, nil
}

func (e *Engine) deny(ctx context.Context, span trace.Span, start time.Time, task *models.Task, agentID domain.AgentID, taskID domain.TaskID, resourceID domain.ResourceID, level domain.AccessLevel, phase, reason string) (delegation.Decision, error) {
	e.emit(ctx, audit.Event{
		Kind:        audit.EventAccessDenied,
		PrincipalID: principalOf(task),
		AgentID:     agentID,
		TaskID:      taskID,
		ResourceID:  resourceID,
		Decision:    audit.DecisionDenied,
		Reason:      reason,
		Metadata:    map[string]any{"access_level": level.String()},
	})
	e.metrics.ObserveCheck("denied", phase, e.clock().Sub(start))
	span.SetAttributes(
		attribute.Bool("decision.allowed", false),
		attribute.String("decision.phase", phase),
	)
	return delegation.Decision{Allowed: false, Reason: reason}, nil
}

// RevokeTask removes a delegation and every tuple derived from it in one
// atomic batch delete. The tuples are read back from the store at revoke
// time rather than reconstructed from metadata: the store is the source
// of truth and may hold tuples written outside the metadata path.
// Idempotent: revoking a task with no remaining tuples reports zero and
// succeeds, and an unknown task id is a no-op rather than an error.
func (e *Engine) RevokeTask(ctx context.Context, taskID domain.TaskID) (models.RevokeResult, error) {
	ctx, span := e.tracer.Start(ctx, "delegation.RevokeTask",
		trace.WithAttributes(attribute.String("task.id", taskID.String())))
	defer span.End()

	if taskID.IsNil() {
		return models.RevokeResult{}, dErrors.New(dErrors.CodeBadRequest, "task id must not be empty")
	}

	// The task appears as object (delegator, assignee) and as subject
	// (grants); read both sides in parallel.
	var asObject, asSubject []relationship.Tuple
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		asObject, err = e.rel.ReadTuples(gctx, relationship.Filter{Object: taskID.Ref()})
		return err
	})
	g.Go(func() error {
		var err error
		asSubject, err = e.rel.ReadTuples(gctx, relationship.Filter{Subject: taskID.Ref()})
		return err
	})
	if err := g.Wait(); err != nil {
		return models.RevokeResult{}, &delegation.StoreReadError{Op: "revoke read", Err: err}
	}

	tuples := append(asObject, asSubject...)
	if len(tuples) > 0 {
		if err := e.rel.DeleteBatch(ctx, tuples); err != nil {
			return models.RevokeResult{}, &delegation.StoreWriteError{Op: "revoke", Err: err}
		}
	}

	// Metadata enriches the audit event; its absence must not block
	// tuple deletion.
	task := e.taskForAudit(ctx, taskID)
	if err := e.meta.Delete(ctx, taskID); err != nil {
		e.logger.WarnContext(ctx, "task metadata delete failed",
			"task_id", taskID,
			"error", err,
		)
	}

	e.emit(ctx, audit.Event{
		Kind:        audit.EventTaskRevoked,
		PrincipalID: principalOf(task),
		AgentID:     agentOf(task),
		TaskID:      taskID,
		Decision:    audit.DecisionRevoked,
		Reason:      "Task revoked",
		Metadata:    map[string]any{"tuples_revoked": len(tuples)},
	})
	e.metrics.ObserveRevoke(len(tuples))
	span.SetAttributes(attribute.Int("tuples.revoked", len(tuples)))
	return models.RevokeResult{TaskID: taskID, TuplesRevoked: len(tuples)}, nil
}

// ListExpiredTaskIDs snapshots the ids of tracked active tasks whose
// expiry is strictly in the past. Entries with a zero expiry are skipped:
// never revoke on ambiguous data.
func (e *Engine) ListExpiredTaskIDs(ctx context.Context) ([]domain.TaskID, error) {
	tasks, err := e.meta.ListAll(ctx)
	if err != nil {
		return nil, &delegation.MetadataError{Op: "list", Err: err}
	}
	now := e.clock()
	var expired []domain.TaskID
	for _, task := range tasks {
		if task.Expired(now) {
			expired = append(expired, task.ID)
		}
	}
	return expired, nil
}

// GetTask returns tracked metadata for a task.
func (e *Engine) GetTask(ctx context.Context, taskID domain.TaskID) (*models.Task, error) {
	task, err := e.meta.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "task not found")
		}
		return nil, &delegation.MetadataError{Op: "get", Err: err}
	}
	return task, nil
}

// taskForAudit fetches metadata for event enrichment. Any failure is
// logged and ignored; enrichment is best-effort.
func (e *Engine) taskForAudit(ctx context.Context, taskID domain.TaskID) *models.Task {
	task, err := e.meta.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			e.logger.WarnContext(ctx, "task metadata read failed",
				"task_id", taskID,
				"error", err,
			)
		}
		return nil
	}
	return task
}

// emit records an audit event. Emission failures are logged, not
// propagated: the domain operation has already happened and its outcome
// must be reported truthfully to the caller.
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if err := e.audit.Emit(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "audit emit failed",
			"kind", event.Kind,
			"task_id", event.TaskID,
			"error", err,
		)
	}
}

func principalOf(task *models.Task) domain.PrincipalID {
	if task == nil {
		return ""
	}
	return task.Delegator
}

func agentOf(task *models.Task) domain.AgentID {
	if task == nil {
		return ""
	}
	return task.Agent
}
