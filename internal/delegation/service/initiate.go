package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"delego/internal/delegation/models"
	"delego/internal/scope"
	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
	"delego/pkg/platform/audit"
)

// Initiator turns a natural-language request into a scoped delegation:
// resolve the principal's delegable resources, ask the advisor for the
// minimal set the request needs, validate the advice against what the
// principal actually holds, then create the task. Advisor output is never
// trusted directly: only validated resources become grants.
type Initiator struct {
	engine    *Engine
	advisor   scope.Advisor
	directory scope.Directory
}

// NewInitiator wires the scope-inference flow on top of the engine.
func NewInitiator(engine *Engine, advisor scope.Advisor, directory scope.Directory) *Initiator {
	return &Initiator{engine: engine, advisor: advisor, directory: directory}
}

// InitiateInput is a natural-language delegation request.
type InitiateInput struct {
	Delegator   domain.PrincipalID
	Agent       domain.AgentID
	RequestText string
}

// TaskContext is the created delegation plus the inference that shaped
// it, returned so callers can show the principal what was granted and why.
type TaskContext struct {
	Task      *models.Task
	Inference *scope.Inference
	// Rejected lists inferred resources the principal could not delegate.
	Rejected []scope.Resource
}

// Initiate runs the inference flow and creates the delegation.
func (i *Initiator) Initiate(ctx context.Context, in InitiateInput) (*TaskContext, error) {
	ctx, span := i.engine.tracer.Start(ctx, "delegation.Initiate")
	defer span.End()

	if in.RequestText == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request text must not be empty")
	}

	available, err := i.directory.ResourcesFor(ctx, in.Delegator)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "resolving delegable resources", err)
	}
	if len(available) == 0 {
		return nil, dErrors.New(dErrors.CodeForbidden, "principal has no delegable resources")
	}

	inference, err := i.advisor.InferScopes(ctx, in.RequestText, available)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeUnavailable, "inferring scopes", err)
	}

	valid := scope.Validate(inference.Resources, available)
	rejected := rejectedOf(inference.Resources, valid)
	if len(rejected) > 0 {
		i.engine.emit(ctx, audit.Event{
			Kind:        audit.EventAccessDenied,
			PrincipalID: in.Delegator,
			AgentID:     in.Agent,
			Decision:    audit.DecisionDenied,
			Reason:      "Inferred scopes exceed delegable resources",
			Metadata: map[string]any{
				"rejected_count": len(rejected),
				"request":        in.RequestText,
			},
		})
	}

	grants := make([]models.ResourceGrant, 0, len(valid))
	for _, r := range valid {
		grants = append(grants, models.ResourceGrant{Resource: r.ID, Access: r.Access.OrDefault()})
	}

	task, err := i.engine.CreateTask(ctx, CreateTaskInput{
		Delegator:   in.Delegator,
		Agent:       in.Agent,
		Description: in.RequestText,
		Grants:      grants,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("task.id", task.ID.String()),
		attribute.Int("scopes.granted", len(valid)),
		attribute.Int("scopes.rejected", len(rejected)),
	)
	return &TaskContext{Task: task, Inference: inference, Rejected: rejected}, nil
}

func rejectedOf(inferred, valid []scope.Resource) []scope.Resource {
	kept := make(map[scope.Resource]struct{}, len(valid))
	for _, r := range valid {
		kept[r] = struct{}{}
	}
	var rejected []scope.Resource
	for _, r := range inferred {
		if _, ok := kept[r]; !ok {
			rejected = append(rejected, r)
		}
	}
	return rejected
}
