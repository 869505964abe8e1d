package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delego/pkg/domain"
)

func TestNormalizeAccess(t *testing.T) {
	tests := []struct {
		input string
		want  domain.AccessLevel
	}{
		{"write", domain.AccessWriter},
		{"writer", domain.AccessWriter},
		{"read", domain.AccessReader},
		{"reader", domain.AccessReader},
		// Ambiguous advisor vocabulary falls back to the weaker grant.
		{"", domain.AccessReader},
		{"admin", domain.AccessReader},
		{"WRITE", domain.AccessReader},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAccess(tt.input), "input %q", tt.input)
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		id      string
		want    bool
	}{
		{"doc1", "doc1", true},
		{"doc1", "doc2", false},
		{"*", "anything", true},
		{"*", "", true},
		{"report-*", "report-q3", true},
		{"report-*", "report-", true},
		{"report-*", "budget-q3", false},
		{"*-q3", "report-q3", true},
		{"*-q3", "report-q4", false},
		{"report-*-final", "report-q3-final", true},
		{"report-*-final", "report-q3-draft", false},
		// Anchored at both ends: a pattern without a trailing star must
		// consume the whole id.
		{"report", "report-q3", false},
		{"report-*", "report", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchWildcard(tt.pattern, tt.id), "pattern %q id %q", tt.pattern, tt.id)
	}
}

func TestValidate(t *testing.T) {
	available := []Resource{
		{Type: "document", ID: "report-*", Access: domain.AccessWriter},
		{Type: "calendar", ID: "team-calendar", Access: domain.AccessWriter},
	}

	t.Run("keeps matching resources", func(t *testing.T) {
		valid := Validate([]Resource{
			{Type: "document", ID: "report-q3", Access: domain.AccessReader},
			{Type: "calendar", ID: "team-calendar", Access: domain.AccessWriter},
		}, available)
		require.Len(t, valid, 2)
	})

	t.Run("drops resources outside the catalog", func(t *testing.T) {
		valid := Validate([]Resource{
			{Type: "document", ID: "budget-2026", Access: domain.AccessReader},
			{Type: "email", ID: "inbox", Access: domain.AccessReader},
		}, available)
		assert.Empty(t, valid)
	})

	t.Run("type must match even when the id does", func(t *testing.T) {
		valid := Validate([]Resource{
			{Type: "calendar", ID: "report-q3", Access: domain.AccessReader},
		}, available)
		assert.Empty(t, valid)
	})

	t.Run("empty inference stays empty", func(t *testing.T) {
		assert.Empty(t, Validate(nil, available))
	})
}

func TestRuleAdvisor(t *testing.T) {
	advisor := NewRuleAdvisor()
	available := []Resource{
		{Type: "document", ID: "q3-report", Access: domain.AccessWriter},
		{Type: "calendar", ID: "team-calendar", Access: domain.AccessWriter},
		{Type: "email", ID: "inbox", Access: domain.AccessWriter},
	}

	t.Run("surfaces mentioned resources as reader", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "read the q3-report and summarize it", available)
		require.NoError(t, err)
		require.Len(t, inf.Resources, 1)
		assert.Equal(t, domain.ResourceID("q3-report"), inf.Resources[0].ID)
		assert.Equal(t, domain.AccessReader, inf.Resources[0].Access)
		assert.Contains(t, inf.Reasoning, "q3-report")
	})

	t.Run("write-intent verbs escalate to writer", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "update the team-calendar with the offsite", available)
		require.NoError(t, err)
		require.Len(t, inf.Resources, 1)
		assert.Equal(t, domain.AccessWriter, inf.Resources[0].Access)
	})

	t.Run("matches on resource type", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "check my email for the invoice", available)
		require.NoError(t, err)
		require.Len(t, inf.Resources, 1)
		assert.Equal(t, domain.ResourceID("inbox"), inf.Resources[0].ID)
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "Summarize the Q3-Report", available)
		require.NoError(t, err)
		require.Len(t, inf.Resources, 1)
	})

	t.Run("no mention means no scopes", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "book a restaurant for friday", available)
		require.NoError(t, err)
		assert.Empty(t, inf.Resources)
		assert.Equal(t, "no available resources mentioned in request", inf.Reasoning)
	})

	t.Run("wildcard catalog ids never match by name", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "read report-*", []Resource{
			{Type: "report", ID: "report-*", Access: domain.AccessReader},
		})
		require.NoError(t, err)
		// "report" still matches via the type, but the wildcard id itself
		// is not treated as a mentionable name.
		require.Len(t, inf.Resources, 1)
		assert.Equal(t, domain.ResourceID("report-*"), inf.Resources[0].ID)
	})

	t.Run("preserves the original request", func(t *testing.T) {
		inf, err := advisor.InferScopes(context.Background(), "read the q3-report", available)
		require.NoError(t, err)
		assert.Equal(t, "read the q3-report", inf.OriginalRequest)
	})
}

func TestStaticDirectory(t *testing.T) {
	catalog := []Resource{
		{Type: "document", ID: "q3-report", Access: domain.AccessReader},
	}
	dir := NewStaticDirectory(catalog)

	resources, err := dir.ResourcesFor(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, resources, 1)

	// Callers get a copy; mutating it must not poison the catalog.
	resources[0].ID = "mutated"
	again, err := dir.ResourcesFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("q3-report"), again[0].ID)
}

func TestParseResources(t *testing.T) {
	t.Run("decodes a catalog", func(t *testing.T) {
		resources, err := ParseResources([]byte(`[
			{"type": "calendar", "id": "team-*", "access": "write"},
			{"type": "document", "id": "q3-report"}
		]`))
		require.NoError(t, err)
		require.Len(t, resources, 2)
		assert.Equal(t, domain.AccessWriter, resources[0].Access)
		assert.Equal(t, domain.ResourceID("team-*"), resources[0].ID)
		assert.Equal(t, domain.AccessReader, resources[1].Access)
	})

	t.Run("rejects entries without an id", func(t *testing.T) {
		_, err := ParseResources([]byte(`[{"type": "calendar", "access": "read"}]`))
		require.Error(t, err)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := ParseResources([]byte(`{"not": "a list"}`))
		require.Error(t, err)
	})

	t.Run("empty catalog is valid", func(t *testing.T) {
		resources, err := ParseResources([]byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, resources)
	})
}
