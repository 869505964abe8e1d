// Package delegation defines the capabilities of the task-delegation
// engine: scoped delegations from a principal to an agent, the two-phase
// access check, and cascading revocation. Consumers depend on these
// interfaces, not on the concrete engine, so the decision cache can wrap
// any Checker by composition.
package delegation

import (
	"context"

	"delego/internal/delegation/models"
	"delego/pkg/domain"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Checker answers whether an agent may access a resource within a task
// context. Implemented by the engine and by the decision cache.
type Checker interface {
	CheckAccess(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, resourceID domain.ResourceID, level domain.AccessLevel) (Decision, error)
}

// Revoker withdraws a delegation and every tuple derived from it.
type Revoker interface {
	RevokeTask(ctx context.Context, taskID domain.TaskID) (models.RevokeResult, error)
}

// ExpiryLister snapshots the ids of tracked tasks past their expiry.
// The snapshot reflects metadata state at call time; call again for a
// fresh view.
type ExpiryLister interface {
	ListExpiredTaskIDs(ctx context.Context) ([]domain.TaskID, error)
}
