package scope

import (
	"context"
	"strings"

	pstrings "delego/pkg/platform/strings"
)

// write-intent verbs. A request mentioning one of these next to a resource
// gets writer access; everything else stays reader.
var writeVerbs = []string{
	"write", "update", "edit", "modify", "send", "create", "delete", "schedule", "post",
}

// RuleAdvisor is a deterministic, LLM-free Advisor: it surfaces the
// available resources whose type or id appear in the request text, with
// writer access only when the request uses a write-intent verb. Hosts
// wanting natural-language inference plug in their own Advisor; this one
// keeps the engine usable, and tests deterministic, without one.
type RuleAdvisor struct{}

func NewRuleAdvisor() *RuleAdvisor {
	return &RuleAdvisor{}
}

func (a *RuleAdvisor) InferScopes(_ context.Context, requestText string, available []Resource) (*Inference, error) {
	request := strings.ToLower(requestText)
	access := NormalizeAccess("read")
	for _, verb := range writeVerbs {
		if strings.Contains(request, verb) {
			access = NormalizeAccess("write")
			break
		}
	}

	var resources []Resource
	var matched []string
	for _, r := range available {
		if !mentioned(request, string(r.ID)) && !mentioned(request, r.Type) {
			continue
		}
		resources = append(resources, Resource{Type: r.Type, ID: r.ID, Access: access})
		matched = append(matched, string(r.ID))
	}
	matched = pstrings.DedupeAndTrim(matched)

	reasoning := "no available resources mentioned in request"
	if len(matched) > 0 {
		reasoning = "request mentions: " + strings.Join(matched, ", ")
	}
	return &Inference{
		Resources:       resources,
		Reasoning:       reasoning,
		OriginalRequest: requestText,
	}, nil
}

func mentioned(request, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || strings.Contains(term, "*") {
		return false
	}
	return strings.Contains(request, term)
}
