package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespace prefixes for relationship tuple references. The engine treats
// tuple fields as opaque strings beyond these prefixes, which it owns.
const (
	PrefixUser     = "user:"
	PrefixAgent    = "agent:"
	PrefixTask     = "task:"
	PrefixResource = "resource:"
)

// PrincipalID identifies the human principal delegating authority.
type PrincipalID string

// AgentID identifies the autonomous agent receiving authority.
type AgentID string

// TaskID identifies a single time-bounded delegation. Always carries the
// "task:" prefix so it can be used directly as a tuple subject or object.
type TaskID string

// ResourceID identifies a protected resource in a collaborator-defined
// namespace, e.g. "doc-123".
type ResourceID string

// NewTaskID mints a fresh, globally unique task identifier.
func NewTaskID() TaskID {
	return TaskID(PrefixTask + uuid.NewString())
}

// ParseTaskID validates an externally supplied task identifier.
func ParseTaskID(s string) (TaskID, error) {
	if !strings.HasPrefix(s, PrefixTask) || len(s) == len(PrefixTask) {
		return "", fmt.Errorf("invalid task id: %q", s)
	}
	return TaskID(s), nil
}

func (id PrincipalID) String() string { return string(id) }
func (id AgentID) String() string     { return string(id) }
func (id TaskID) String() string      { return string(id) }
func (id ResourceID) String() string  { return string(id) }

func (id PrincipalID) IsNil() bool { return id == "" }
func (id AgentID) IsNil() bool     { return id == "" }
func (id TaskID) IsNil() bool      { return id == "" }
func (id ResourceID) IsNil() bool  { return id == "" }

// Ref returns the namespaced tuple reference for the principal.
func (id PrincipalID) Ref() string { return PrefixUser + string(id) }

// Ref returns the namespaced tuple reference for the agent.
func (id AgentID) Ref() string { return PrefixAgent + string(id) }

// Ref returns the task reference. Task ids already carry their prefix.
func (id TaskID) Ref() string { return string(id) }

// Ref returns the namespaced tuple reference for the resource.
func (id ResourceID) Ref() string { return PrefixResource + string(id) }
