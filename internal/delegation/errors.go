package delegation

import "fmt"

// StoreWriteError reports a failed relationship store batch write or
// delete. It is surfaced to the caller of Create/Revoke and never retried
// internally; retry safety depends on store idempotence the engine cannot
// assume.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("relationship store write failed during %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreReadError reports a failed relationship store check or read. Any
// caller enforcing fail-closed security must treat it as a denial, never
// as an allow.
type StoreReadError struct {
	Op  string
	Err error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("relationship store read failed during %s: %v", e.Op, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// MetadataError reports a failed task metadata operation. Fatal on create;
// tolerated with a logged warning during revoke, since missing metadata
// must not block tuple deletion.
type MetadataError struct {
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("task metadata %s failed: %v", e.Op, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
