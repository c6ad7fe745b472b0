package model

import (
	"fmt"
	"strings"
)

// ResourceType identifies one kind of business entity pulled from the source system.
type ResourceType string

const (
	ResourceClient          ResourceType = "CLIENT"
	ResourceCase            ResourceType = "CASE"
	ResourceSession         ResourceType = "SESSION"
	ResourceShallowCase     ResourceType = "SHALLOW_CASE"
	ResourceShallowSession  ResourceType = "SHALLOW_SESSION"
	ResourceEnrichedCase    ResourceType = "ENRICHED_CASE"
	ResourceEnrichedSession ResourceType = "ENRICHED_SESSION"
)

// AllResourceTypes lists every resource type in declaration order.
var AllResourceTypes = []ResourceType{
	ResourceClient,
	ResourceCase,
	ResourceSession,
	ResourceShallowCase,
	ResourceShallowSession,
	ResourceEnrichedCase,
	ResourceEnrichedSession,
}

// ResourceDescriptor is the static storage and source layout of a resource type.
type ResourceDescriptor struct {
	Type ResourceType
	// Table holds one record per natural id.
	Table string
	// NaturalIDField is the key carrying the source identifier in a payload.
	NaturalIDField string
	// SourcePath is the collection segment on the source API.
	SourcePath string
	// VerifiedFields are compared against the source during verification.
	VerifiedFields []string
	// AllowedFilters are the filter keys accepted by the source search endpoint.
	AllowedFilters []string
	// Enrichment types are fetched per id and skip ids that are already stored.
	Enrichment bool
	// ShallowOf is the shallow counterpart whose ids seed an enrichment run.
	ShallowOf ResourceType
}

var (
	clientFilters  = []string{"status", "office_id", "created_after", "created_before"}
	caseFilters    = []string{"status", "office_id", "client_id", "opened_after", "opened_before"}
	sessionFilters = []string{"status", "case_id", "date_from", "date_to"}
)

// Descriptor returns the layout of r. ok is false for unknown types.
func (r ResourceType) Descriptor() (ResourceDescriptor, bool) {
	switch r {
	case ResourceClient:
		return ResourceDescriptor{
			Type:           r,
			Table:          "clients",
			NaturalIDField: "client_id",
			SourcePath:     "clients",
			VerifiedFields: []string{"first_name", "last_name", "birth_date", "status"},
			AllowedFilters: clientFilters,
		}, true
	case ResourceCase:
		return ResourceDescriptor{
			Type:           r,
			Table:          "cases",
			NaturalIDField: "case_id",
			SourcePath:     "cases",
			VerifiedFields: []string{"case_number", "status", "opened_at", "client_id"},
			AllowedFilters: caseFilters,
		}, true
	case ResourceSession:
		return ResourceDescriptor{
			Type:           r,
			Table:          "sessions",
			NaturalIDField: "session_id",
			SourcePath:     "sessions",
			VerifiedFields: []string{"case_id", "session_date", "duration_minutes", "status"},
			AllowedFilters: sessionFilters,
		}, true
	case ResourceShallowCase:
		return ResourceDescriptor{
			Type:           r,
			Table:          "shallow_cases",
			NaturalIDField: "case_id",
			SourcePath:     "cases",
			VerifiedFields: []string{"case_number", "status"},
			AllowedFilters: caseFilters,
		}, true
	case ResourceShallowSession:
		return ResourceDescriptor{
			Type:           r,
			Table:          "shallow_sessions",
			NaturalIDField: "session_id",
			SourcePath:     "sessions",
			VerifiedFields: []string{"case_id", "session_date"},
			AllowedFilters: sessionFilters,
		}, true
	case ResourceEnrichedCase:
		return ResourceDescriptor{
			Type:           r,
			Table:          "enriched_cases",
			NaturalIDField: "case_id",
			SourcePath:     "cases",
			VerifiedFields: []string{"case_number", "status", "opened_at", "client_id"},
			Enrichment:     true,
			ShallowOf:      ResourceShallowCase,
		}, true
	case ResourceEnrichedSession:
		return ResourceDescriptor{
			Type:           r,
			Table:          "enriched_sessions",
			NaturalIDField: "session_id",
			SourcePath:     "sessions",
			VerifiedFields: []string{"case_id", "session_date", "duration_minutes", "status"},
			Enrichment:     true,
			ShallowOf:      ResourceShallowSession,
		}, true
	}
	return ResourceDescriptor{}, false
}

// MustDescriptor is Descriptor for types already validated by ParseResourceType.
func (r ResourceType) MustDescriptor() ResourceDescriptor {
	d, ok := r.Descriptor()
	if !ok {
		panic(fmt.Sprintf("unknown resource type %q", string(r)))
	}
	return d
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	_, ok := r.Descriptor()
	return ok
}

// Table is shorthand for the descriptor's table name.
func (r ResourceType) Table() string {
	return r.MustDescriptor().Table
}

func (r ResourceType) String() string { return string(r) }

// ParseResourceType accepts a resource type name in any case.
func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown resource type %q", s)
	}
	return r, nil
}
