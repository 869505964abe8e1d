// Package scope defines the scope-inference port: turning a free-text
// request into the minimal resource list a task needs. The inference step
// itself (typically an LLM) is an external collaborator; this package
// holds the port, the validation that clamps inferred scopes to what the
// principal actually has, and a heuristic advisor for hosts and tests.
package scope

import (
	"context"

	"delego/pkg/domain"
)

// Resource is one candidate resource with its requested access.
type Resource struct {
	Type   string
	ID     domain.ResourceID
	Access domain.AccessLevel
}

// Inference is the advisor's answer: the minimal resource set the request
// needs, with the advisor's reasoning for audit purposes.
type Inference struct {
	Resources       []Resource
	Reasoning       string
	OriginalRequest string
}

// Advisor infers minimal required scopes from a natural-language request.
type Advisor interface {
	InferScopes(ctx context.Context, requestText string, available []Resource) (*Inference, error)
}

// Directory resolves the resources a principal can delegate.
type Directory interface {
	ResourcesFor(ctx context.Context, principalID domain.PrincipalID) ([]Resource, error)
}

// NormalizeAccess maps advisor access vocabulary onto engine access
// levels. Advisors speak in "read"/"write"; the tuple relations are
// "reader"/"writer". Unknown values fall back to reader: prefer the
// weaker grant when the advisor is ambiguous.
func NormalizeAccess(s string) domain.AccessLevel {
	switch s {
	case "write", "writer":
		return domain.AccessWriter
	default:
		return domain.AccessReader
	}
}

// Validate filters inferred resources down to those present in the
// available set. Resources the principal cannot delegate are silently
// dropped; the task simply never gains them.
func Validate(inferred []Resource, available []Resource) []Resource {
	var valid []Resource
	for _, r := range inferred {
		if Available(r, available) {
			valid = append(valid, r)
		}
	}
	return valid
}

// Available reports whether a requested resource matches the available
// set. Available ids may carry "*" wildcards, e.g. "report-*".
func Available(requested Resource, available []Resource) bool {
	for _, a := range available {
		if a.Type == requested.Type && matchWildcard(string(a.ID), string(requested.ID)) {
			return true
		}
	}
	return false
}

// matchWildcard matches id against pattern where "*" matches any run of
// characters, anchored at both ends.
func matchWildcard(pattern, id string) bool {
	if pattern == id {
		return true
	}
	return matchSegments(pattern, id)
}

func matchSegments(pattern, id string) bool {
	for len(pattern) > 0 {
		star := -1
		for i := 0; i < len(pattern); i++ {
			if pattern[i] == '*' {
				star = i
				break
			}
		}
		if star == -1 {
			return pattern == id
		}
		// Literal prefix before the wildcard must match exactly.
		if len(id) < star || pattern[:star] != id[:star] {
			return false
		}
		pattern = pattern[star+1:]
		id = id[star:]
		if pattern == "" {
			return true
		}
		// Slide the remaining pattern across the id.
		for i := 0; i <= len(id); i++ {
			if matchSegments(pattern, id[i:]) {
				return true
			}
		}
		return false
	}
	return id == ""
}
