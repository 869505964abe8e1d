package domain

import "fmt"

// AccessLevel is the access relation a task holds on a resource.
// This is a domain primitive that enforces validity at parse time.
type AccessLevel string

// Known access levels. The set is closed here but extensible: add a new
// constant and register it in levelOrder.
const (
	AccessReader AccessLevel = "reader"
	AccessWriter AccessLevel = "writer"
)

// levelOrder defines the known levels and their relative strength.
// Writer implies more authority than reader for display purposes only;
// checks never substitute one level for another.
var levelOrder = map[AccessLevel]int{
	AccessReader: 1,
	AccessWriter: 2,
}

// ParseAccessLevel validates and returns an AccessLevel.
// Returns an error if the level is unknown.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(s)
	if _, ok := levelOrder[l]; !ok {
		return "", fmt.Errorf("unknown access level: %s", s)
	}
	return l, nil
}

// String returns the string representation of the access level.
func (l AccessLevel) String() string {
	return string(l)
}

// IsNil returns true if the access level is empty.
func (l AccessLevel) IsNil() bool {
	return l == ""
}

// OrDefault returns the level, or AccessReader when unset. Grants that do
// not name a level fall back to reader.
func (l AccessLevel) OrDefault() AccessLevel {
	if l.IsNil() {
		return AccessReader
	}
	return l
}
