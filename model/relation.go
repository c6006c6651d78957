package model

import (
	"time"

	"github.com/google/uuid"
)

// Relation types used across the domain modules.
const (
	RelationTypeObjectMarkingRefs = "object_marking_refs"
	RelationTypeKillChainPhases   = "kill_chain_phases"
	RelationTypeCreatedByRef      = "created_by_ref"
)

// Default role names of the relation endpoints.
const (
	DefaultFromRole = "from"
	DefaultToRole   = "to"
)

// Relation represents a directed, typed edge between two entities
type Relation struct {
	ID           uuid.UUID `json:"id"`
	SourceID     uuid.UUID `json:"source_id"`
	TargetID     uuid.UUID `json:"target_id"`
	RelationType string    `json:"relation_type"`
	FromRole     string    `json:"from_role"`
	ToRole       string    `json:"to_role"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
}

// RelationInput describes a relation to create from a source entity.
type RelationInput struct {
	ToID         uuid.UUID `json:"to_id" validate:"required"`
	RelationType string    `json:"relation_type" validate:"required,max=128"`
	FromRole     string    `json:"from_role,omitempty" validate:"max=64"`
	ToRole       string    `json:"to_role,omitempty" validate:"max=64"`
}

// RelationData is the result of a relation mutation: the relation and
// the entity considered changed for notification purposes (the source).
type RelationData struct {
	Relation *Relation `json:"relation"`
	Node     *Entity   `json:"node"`
}
