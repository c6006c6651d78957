package model

import (
	"time"

	"github.com/google/uuid"
)

// EditContext records that a user is currently editing an entity.
// It is advisory only and expires on its own.
type EditContext struct {
	EntityID     uuid.UUID  `json:"entity_id"`
	UserID       string     `json:"user_id"`
	PendingInput Attributes `json:"pending_input,omitempty"`
	EnteredAt    time.Time  `json:"entered_at"`
	ExpiresAt    time.Time  `json:"expires_at,omitempty"`
}
