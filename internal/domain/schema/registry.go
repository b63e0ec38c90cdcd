// Package schema holds the canonical V6 property, label, and relationship
// names that every write to the graph must conform to, plus the validation
// routines that enforce them. It is a process-wide, read-only table: no
// method here mutates shared state after the registry is constructed.
package schema

import (
	"fmt"
	"strings"
)

// SchemaEnforcementError is raised when strict validation rejects an item.
// It is never raised across a transaction boundary undetected: callers in
// internal/service/v6pipeline catch it, attach it to the per-item warning
// list, and roll back only the offending item, not the whole batch.
type SchemaEnforcementError struct {
	Field  string
	Value  string
	Reason string
}

func (e *SchemaEnforcementError) Error() string {
	return fmt.Sprintf("schema enforcement: field %q value %q: %s", e.Field, e.Value, e.Reason)
}

// Canonical relationship type names.
const (
	RelEntityHasObservation           = "ENTITY_HAS_OBSERVATION"
	RelOccurredOn                     = "OCCURRED_ON"
	RelPartOfMonth                    = "PART_OF_MONTH"
	RelPartOfYear                     = "PART_OF_YEAR"
	RelConversationSessionAddedObs    = "CONVERSATION_SESSION_ADDED_OBSERVATION"
	RelMemberOfCommunity              = "MEMBER_OF_COMMUNITY"
)

// protectedRelationships may only be created by the V6 write pipeline.
// Tool calls (create_relations, raw_cypher_query) that attempt to create
// them directly are refused.
var protectedRelationships = map[string]bool{
	RelOccurredOn:                  true,
	RelPartOfMonth:                 true,
	RelPartOfYear:                  true,
	RelEntityHasObservation:        true,
}

// toolCreatableRelationships is the set create_relations may MERGE.
var toolCreatableRelationships = map[string]bool{
	RelConversationSessionAddedObs: true,
	RelMemberOfCommunity:           true,
}

// IsProtectedRelationship reports whether rel may only be created by the
// V6 pipeline.
func IsProtectedRelationship(rel string) bool {
	return protectedRelationships[strings.ToUpper(rel)]
}

// IsToolCreatableRelationship reports whether a tool handler may MERGE rel.
func IsToolCreatableRelationship(rel string) bool {
	return toolCreatableRelationships[strings.ToUpper(rel)]
}

// Canonical entity types (closed set). Unknown types fail in strict mode
// (SCHEMA_ENFORCEMENT_STRICT=true) or are accepted as given, with a warning,
// in lenient mode; an empty type becomes "general".
var canonicalEntityTypes = map[string]bool{
	"person":       true,
	"project":      true,
	"concept":      true,
	"organization": true,
	"location":     true,
	"event":        true,
	"technology":   true,
	"document":     true,
	"general":      true,
}

// NormalizeEntityType lowercases and trims an entity type string.
func NormalizeEntityType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsCanonicalEntityType reports whether t (already normalized) belongs to
// the closed set of entity types.
func IsCanonicalEntityType(t string) bool {
	return canonicalEntityTypes[t]
}

// Canonical semantic themes, in classifier evaluation order. "general"
// is always last: it is the fallback, never a matched keyword group.
var Themes = []string{
	"technical",
	"memory",
	"project",
	"strategic",
	"consciousness",
	"partnership",
	"temporal",
	"emotional",
	"general",
}

// IsCanonicalTheme reports whether t belongs to the nine-element theme set.
func IsCanonicalTheme(t string) bool {
	for _, theme := range Themes {
		if theme == t {
			return true
		}
	}
	return false
}

// forbiddenObservationProperties are V5 property names that must never
// appear on a V6 Observation node.
var forbiddenObservationProperties = map[string]bool{
	"timestamp":   true, // V5 used this instead of created_at
	"theme":       true, // V5 used a bare, unscoped theme property
	"observations": true, // V5 kept an inline array on Entity
}

// CheckForbiddenProperty returns a SchemaEnforcementError if key is a V5
// property name forbidden on V6 Observation/Entity writes.
func CheckForbiddenProperty(key string) error {
	if forbiddenObservationProperties[strings.ToLower(key)] {
		return &SchemaEnforcementError{
			Field:  key,
			Value:  "",
			Reason: "forbidden V5 property",
		}
	}
	return nil
}

// EntityInput is the raw, pre-validation shape of an entity as received
// from create_entities arguments.
type EntityInput struct {
	Name         string
	EntityType   string
	Observations []string
}

// ValidateEntities normalizes entity types and checks for forbidden
// properties. In strict mode an unknown entityType fails that item with a
// SchemaEnforcementError instead of falling back silently.
func ValidateEntities(items []EntityInput, strict bool) (normalized []EntityInput, warnings []string, errs []error) {
	for _, item := range items {
		t := NormalizeEntityType(item.EntityType)
		if !IsCanonicalEntityType(t) {
			if strict {
				errs = append(errs, &SchemaEnforcementError{
					Field:  "entityType",
					Value:  item.EntityType,
					Reason: "not in canonical entity type set",
				})
				continue
			}
			warnings = append(warnings, fmt.Sprintf("entity %q: unknown entityType %q, accepted leniently", item.Name, item.EntityType))
			t = NormalizeEntityType(item.EntityType)
			if t == "" {
				t = "general"
			}
		}
		item.EntityType = t
		normalized = append(normalized, item)
	}
	return normalized, warnings, errs
}

// RelationInput is a raw (from, type, to) triple as received from
// create_relations arguments.
type RelationInput struct {
	From string
	Type string
	To   string
}

// ValidateRelationships rejects protected relationship types outright
// (regardless of strict/lenient mode — protection is not a warning-level
// concern) and normalizes the type name to upper snake case.
func ValidateRelationships(items []RelationInput, strict bool) (normalized []RelationInput, warnings []string, errs []error) {
	for _, item := range items {
		rel := strings.ToUpper(strings.TrimSpace(item.Type))
		if IsProtectedRelationship(rel) {
			errs = append(errs, fmt.Errorf("relationship type %q is protected: only the V6 write pipeline may create it", rel))
			continue
		}
		if !IsToolCreatableRelationship(rel) {
			if strict {
				errs = append(errs, &SchemaEnforcementError{
					Field:  "type",
					Value:  item.Type,
					Reason: "not a tool-creatable relationship type",
				})
				continue
			}
			warnings = append(warnings, fmt.Sprintf("relationship type %q is not canonical, accepted leniently", item.Type))
		}
		item.Type = rel
		normalized = append(normalized, item)
	}
	return normalized, warnings, errs
}
