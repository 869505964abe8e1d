package scope

import (
	"context"
	"encoding/json"
	"fmt"

	"delego/pkg/domain"
)

// StaticDirectory serves a fixed resource catalog to every principal.
// Suitable for single-tenant deployments and tests; multi-tenant hosts
// implement Directory against their own entitlement system.
type StaticDirectory struct {
	resources []Resource
}

func NewStaticDirectory(resources []Resource) *StaticDirectory {
	return &StaticDirectory{resources: resources}
}

func (d *StaticDirectory) ResourcesFor(context.Context, domain.PrincipalID) ([]Resource, error) {
	out := make([]Resource, len(d.resources))
	copy(out, d.resources)
	return out, nil
}

type resourceSpec struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Access string `json:"access"`
}

// ParseResources decodes a JSON resource catalog, e.g.
// [{"type":"calendar","id":"team-*","access":"write"}].
func ParseResources(raw []byte) ([]Resource, error) {
	var specs []resourceSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parse resource catalog: %w", err)
	}
	resources := make([]Resource, 0, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("resource catalog entry missing id")
		}
		resources = append(resources, Resource{
			Type:   spec.Type,
			ID:     domain.ResourceID(spec.ID),
			Access: NormalizeAccess(spec.Access),
		})
	}
	return resources, nil
}
