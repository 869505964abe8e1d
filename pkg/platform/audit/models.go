package audit

import (
	"time"

	"delego/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: delegation creation, revocation of delegated authority.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and
	// forensics. These feed into SIEM systems and alerting pipelines.
	// Examples: denied access attempts, sweeper revocations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled or aggregated with shorter retention.
	// Examples: routine allowed access checks.
	CategoryOperations EventCategory = "operations"
)

// Kind names an audit event type.
type Kind string

const (
	// EventDelegationCreated records a principal delegating scoped
	// authority to an agent.
	EventDelegationCreated Kind = "delegation_created"

	// EventAccessChecked records an access check that was allowed.
	EventAccessChecked Kind = "access_checked"

	// EventAccessDenied records an access check that was denied, on
	// either phase of the check.
	EventAccessDenied Kind = "access_denied"

	// EventTaskRevoked records removal of a task and every relationship
	// tuple derived from it.
	EventTaskRevoked Kind = "task_revoked"

	// EventActionAttempted records an agent-invoked action passing through
	// the enforcement gateway, whatever the outcome.
	EventActionAttempted Kind = "action_attempted"

	// EventSweepCompleted records one pass of the expiry sweeper.
	EventSweepCompleted Kind = "sweep_completed"
)

// kindCategories maps each event kind to its category.
var kindCategories = map[Kind]EventCategory{
	EventDelegationCreated: CategoryCompliance,
	EventTaskRevoked:       CategoryCompliance,
	EventAccessDenied:      CategorySecurity,
	EventActionAttempted:   CategorySecurity,
	EventAccessChecked:     CategoryOperations,
	EventSweepCompleted:    CategoryOperations,
}

// Category returns the EventCategory for this event kind.
// Unknown kinds default to CategoryOperations.
func (k Kind) Category() EventCategory {
	if cat, ok := kindCategories[k]; ok {
		return cat
	}
	return CategoryOperations
}

// Decision is the recorded outcome of the action an event describes.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
	DecisionRevoked Decision = "revoked"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out. Events are
// append-only; nothing in this module mutates or deletes them.
type Event struct {
	ID          string
	Timestamp   time.Time
	Kind        Kind
	PrincipalID domain.PrincipalID
	AgentID     domain.AgentID
	TaskID      domain.TaskID
	ResourceID  domain.ResourceID
	Decision    Decision
	Reason      string
	// Metadata carries free-form enrichment: grant counts, TTLs, tuple
	// counts, client info. Values must be JSON-serializable.
	Metadata map[string]any
}
