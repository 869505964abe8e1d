// Package gateway wraps resource actions with mandatory access checks.
// An action wrapped here cannot run without an allow from the delegation
// engine; there is no bypass path.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"delego/internal/delegation"
	"delego/pkg/domain"
	"delego/pkg/platform/audit"
)

// AuthorizationError is the single error surface a caller sees from a
// wrapped action. Denials, engine unavailability, and action failures all
// carry this type, so an agent probing error shapes learns nothing about
// which stage failed. Operators unwrap the cause from logs, not from the
// agent-facing error.
type AuthorizationError struct {
	AgentID  domain.AgentID
	TaskID   domain.TaskID
	Resource domain.ResourceID
	Access   domain.AccessLevel
	Reason   string
	cause    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed for %s on %s: %s", e.AgentID, e.Resource, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.cause }

// Target names the resource and access level a wrapped action touches.
type Target struct {
	Resource domain.ResourceID
	Access   domain.AccessLevel
}

// Gateway runs access checks in front of actions. Every invocation of a
// wrapped action is audited here, attempt and outcome, even when the
// decision comes from a cache and never reaches the engine.
type Gateway struct {
	checker delegation.Checker
	audit   audit.Emitter
	logger  *slog.Logger
}

func New(checker delegation.Checker, emitter audit.Emitter, logger *slog.Logger) *Gateway {
	return &Gateway{checker: checker, audit: emitter, logger: logger}
}

// record appends the attempt event. Emit failures are logged, not
// propagated: an audit outage must not change the authorization outcome.
func (g *Gateway) record(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, target Target, decision audit.Decision, reason string) {
	event := audit.Event{
		Kind:       audit.EventActionAttempted,
		AgentID:    agentID,
		TaskID:     taskID,
		ResourceID: target.Resource,
		Decision:   decision,
		Reason:     reason,
		Metadata:   map[string]any{"access_level": target.Access.OrDefault().String()},
	}
	if err := g.audit.Emit(ctx, event); err != nil {
		g.logger.ErrorContext(ctx, "audit emit failed",
			"kind", event.Kind,
			"task_id", taskID,
			"error", err,
		)
	}
}

// Action is the protected operation. It only ever runs after an allow.
type Action[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Protected is a wrapped action, invoked with the agent's task-scoped
// identity.
type Protected[Req, Res any] func(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, req Req) (Res, error)

// TargetFunc derives the target from the request, for actions whose
// resource depends on their input. Must be a pure function of req.
type TargetFunc[Req any] func(req Req) Target

// Wrap binds an action to a fixed target. The returned function checks
// the agent's authority on every call; a check failure is treated as a
// denial. Wrap is a free function because methods cannot introduce type
// parameters.
func Wrap[Req, Res any](g *Gateway, target Target, action Action[Req, Res]) Protected[Req, Res] {
	return WrapFunc(g, func(Req) Target { return target }, action)
}

// WrapFunc binds an action to a request-derived target.
func WrapFunc[Req, Res any](g *Gateway, targetOf TargetFunc[Req], action Action[Req, Res]) Protected[Req, Res] {
	return func(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, req Req) (Res, error) {
		var zero Res

		target := targetOf(req)
		decision, err := g.checker.CheckAccess(ctx, agentID, taskID, target.Resource, target.Access)
		if err != nil {
			g.logger.ErrorContext(ctx, "access check failed, denying",
				"agent_id", agentID,
				"task_id", taskID,
				"resource_id", target.Resource,
				"error", err,
			)
			g.record(ctx, agentID, taskID, target, audit.DecisionDenied, "Authorization unavailable")
			return zero, &AuthorizationError{
				AgentID:  agentID,
				TaskID:   taskID,
				Resource: target.Resource,
				Access:   target.Access,
				Reason:   "Authorization unavailable",
				cause:    err,
			}
		}
		if !decision.Allowed {
			g.record(ctx, agentID, taskID, target, audit.DecisionDenied, decision.Reason)
			return zero, &AuthorizationError{
				AgentID:  agentID,
				TaskID:   taskID,
				Resource: target.Resource,
				Access:   target.Access,
				Reason:   decision.Reason,
			}
		}

		g.record(ctx, agentID, taskID, target, audit.DecisionAllowed, decision.Reason)

		res, err := action(ctx, req)
		if err != nil {
			g.logger.WarnContext(ctx, "protected action failed after allow",
				"agent_id", agentID,
				"task_id", taskID,
				"resource_id", target.Resource,
				"error", err,
			)
			return zero, &AuthorizationError{
				AgentID:  agentID,
				TaskID:   taskID,
				Resource: target.Resource,
				Access:   target.Access,
				Reason:   "Action failed",
				cause:    err,
			}
		}
		return res, nil
	}
}
