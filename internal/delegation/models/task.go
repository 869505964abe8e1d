package models

import (
	"time"

	"delego/internal/relationship"
	"delego/pkg/domain"
)

// Relations the engine writes for each task. Grant tuples use the access
// level itself as the relation.
const (
	RelationDelegator = "delegator"
	RelationAssignee  = "assignee"
)

// TaskStatus is the lifecycle state of a delegation.
type TaskStatus string

const (
	TaskStatusActive  TaskStatus = "active"
	TaskStatusRevoked TaskStatus = "revoked"
	TaskStatusExpired TaskStatus = "expired"
)

// ResourceGrant binds one resource at one access level to a task. Every
// grant corresponds 1:1 to a tuple (task, level, resource) written at
// creation.
type ResourceGrant struct {
	Resource domain.ResourceID
	Access   domain.AccessLevel
}

// Task is the delegation unit: time-bounded authority from a principal to
// an agent over an explicit resource list. The enforceable state is the
// tuple set in the relationship store; Task metadata is an index over why
// those tuples exist, not the source of truth for access decisions.
type Task struct {
	ID          domain.TaskID
	Delegator   domain.PrincipalID
	Agent       domain.AgentID
	Description string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      TaskStatus
	Grants      []ResourceGrant
}

// Expired reports whether the task is active but past its expiry. A zero
// expiry never counts as expired: ambiguous data must not trigger
// revocation.
func (t *Task) Expired(now time.Time) bool {
	if t.Status != TaskStatusActive || t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.Before(now)
}

// Tuples builds the full relationship batch for the task: the delegator
// tuple, the assignee tuple, and one grant tuple per resource. Reachability
// for a check is the conjunction of the assignee tuple and the matching
// grant tuple; deleting this batch severs both paths at once.
func (t *Task) Tuples() []relationship.Tuple {
	tuples := make([]relationship.Tuple, 0, 2+len(t.Grants))
	tuples = append(tuples,
		relationship.Tuple{Subject: t.Delegator.Ref(), Relation: RelationDelegator, Object: t.ID.Ref()},
		relationship.Tuple{Subject: t.Agent.Ref(), Relation: RelationAssignee, Object: t.ID.Ref()},
	)
	for _, g := range t.Grants {
		tuples = append(tuples, GrantTuple(t.ID, g.Access, g.Resource))
	}
	return tuples
}

// AssigneeTuple is the tuple fact checked in phase one of an access check.
func AssigneeTuple(agentID domain.AgentID, taskID domain.TaskID) relationship.Tuple {
	return relationship.Tuple{Subject: agentID.Ref(), Relation: RelationAssignee, Object: taskID.Ref()}
}

// GrantTuple is the tuple fact checked in phase two of an access check.
func GrantTuple(taskID domain.TaskID, level domain.AccessLevel, resourceID domain.ResourceID) relationship.Tuple {
	return relationship.Tuple{Subject: taskID.Ref(), Relation: level.OrDefault().String(), Object: resourceID.Ref()}
}

// RevokeResult reports what a revocation removed.
type RevokeResult struct {
	TaskID        domain.TaskID
	TuplesRevoked int
}
