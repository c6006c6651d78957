package model

import (
	"time"

	"github.com/google/uuid"
)

// Field names of the entity columns. They can be referenced in field changes and filters.
const (
	FieldID             = "id"
	FieldStixID         = "stix_id"
	FieldType           = "entity_type"
	FieldCreated        = "created"
	FieldModified       = "modified"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldCreatedAtMonth = "created_at_month"
	FieldCreatedAtYear  = "created_at_year"
	FieldRevoked        = "revoked"
)

// ImmutableFields can never be changed through a field edit.
var ImmutableFields = map[string]bool{
	FieldID:             true,
	FieldStixID:         true,
	FieldType:           true,
	"type":              true,
	FieldCreated:        true,
	FieldModified:       true,
	FieldCreatedAt:      true,
	FieldUpdatedAt:      true,
	FieldCreatedAtMonth: true,
	FieldCreatedAtYear:  true,
}

// Entity represents a node of the knowledge graph (kill chain phase, marking definition, ...)
type Entity struct {
	ID             uuid.UUID  `json:"id"`
	StixID         string     `json:"stix_id"`
	Type           string     `json:"entity_type"`
	Attributes     Attributes `json:"attributes"`
	Created        time.Time  `json:"created"`
	Modified       time.Time  `json:"modified"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CreatedAtMonth string     `json:"created_at_month"`
	CreatedAtYear  string     `json:"created_at_year"`
	Revoked        bool       `json:"revoked"`
}

// FieldChange is a single field update. Key is either an attribute name or "revoked".
type FieldChange struct {
	Key   string      `json:"key" validate:"required,max=128"`
	Value interface{} `json:"value"`
}
