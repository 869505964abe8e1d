// Package relationship defines the tuple store port the delegation engine
// enforces against, plus the adapters shipped with this module. The store
// is the source of truth for access decisions; task metadata is only an
// index over why tuples exist.
package relationship

import "context"

// Tuple is a (subject, relation, object) fact. All fields are opaque
// namespaced strings such as "user:alice", "task:<uuid>", "resource:doc-1";
// the engine never interprets them beyond string equality and the prefix
// conventions it defines itself.
type Tuple struct {
	Subject  string
	Relation string
	Object   string
}

// Filter selects tuples by partial key. Empty fields match everything.
type Filter struct {
	Subject  string
	Relation string
	Object   string
}

// Matches reports whether the tuple satisfies every set field of the filter.
func (f Filter) Matches(t Tuple) bool {
	if f.Subject != "" && f.Subject != t.Subject {
		return false
	}
	if f.Relation != "" && f.Relation != t.Relation {
		return false
	}
	if f.Object != "" && f.Object != t.Object {
		return false
	}
	return true
}

// Store is the relationship tuple store port. Batch operations must be
// all-or-nothing: a reader racing a batch sees the pre- or post-batch
// state, never a partial application. The engine relies on this instead of
// implementing its own two-phase commit.
type Store interface {
	// WriteBatch atomically inserts all tuples. Writing a tuple that
	// already exists is not an error.
	WriteBatch(ctx context.Context, tuples []Tuple) error

	// DeleteBatch atomically removes all tuples. Deleting an absent tuple
	// is not an error.
	DeleteBatch(ctx context.Context, tuples []Tuple) error

	// CheckTuple reports whether the exact tuple is present.
	CheckTuple(ctx context.Context, subject, relation, object string) (bool, error)

	// ReadTuples returns all tuples matching the partial key.
	ReadTuples(ctx context.Context, filter Filter) ([]Tuple, error)
}
