// Package killchainphase manages kill chain phases, the steps of an attack
// model like the Lockheed Martin kill chain or MITRE ATT&CK tactics.
package killchainphase

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"math"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/core/lifecycle"
	"github.com/siherrmann/ctigraph/core/query"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

const (
	// EntityType is the type of kill chain phase entities.
	EntityType = "kill-chain-phase"
	// MarkingDefinitionType is the type of the marking definitions of a phase.
	MarkingDefinitionType = "marking-definition"

	AttributeKillChainName = "kill_chain_name"
	AttributePhaseName     = "phase_name"
	AttributePhaseOrder    = "phase_order"
)

// KillChainPhase is the input of a new kill chain phase.
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name" validate:"required,max=256"`
	PhaseName     string `json:"phase_name" validate:"required,max=256"`
	PhaseOrder    int    `json:"phase_order" validate:"gte=0"`
}

// Attributes returns the entity attributes of the phase.
func (k KillChainPhase) Attributes() model.Attributes {
	return model.Attributes{
		AttributeKillChainName: k.KillChainName,
		AttributePhaseName:     k.PhaseName,
		AttributePhaseOrder:    k.PhaseOrder,
	}
}

// FromEntity reads the phase attributes of entity.
func FromEntity(entity *model.Entity) KillChainPhase {
	order, _ := entity.Attributes.Int(AttributePhaseOrder)
	return KillChainPhase{
		KillChainName: entity.Attributes.String(AttributeKillChainName),
		PhaseName:     entity.Attributes.String(AttributePhaseName),
		PhaseOrder:    order,
	}
}

// ParsePhaseOrder returns v as phase order. Fractions, negative numbers and numbers
// above math.MaxInt32 are rejected.
func ParsePhaseOrder(v interface{}) (int, error) {
	var order float64
	switch n := v.(type) {
	case int:
		order = float64(n)
	case int64:
		order = float64(n)
	case float64:
		order = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, model.NewValidationError("%s must be a non negative integer, got %q", AttributePhaseOrder, n)
		}
		order = f
	default:
		return 0, model.NewValidationError("%s must be a non negative integer, got %T", AttributePhaseOrder, v)
	}

	if math.IsNaN(order) || order < 0 || order != math.Trunc(order) || order > math.MaxInt32 {
		return 0, model.NewValidationError("%s must be a non negative integer, got %v", AttributePhaseOrder, v)
	}
	return int(order), nil
}

// RelatedEntities lists the entities on the other end of relations.
type RelatedEntities interface {
	SelectRelatedEntities(ctx context.Context, entityID uuid.UUID, relationType string, entityType string, incoming bool, pagination model.Pagination) (*model.EntityPage, error)
}

// Service exposes the kill chain phase operations on top of the generic lifecycle.
type Service struct {
	lifecycle *lifecycle.Service
	related   RelatedEntities
}

// New creates the kill chain phase service. The lifecycle service must manage EntityType.
func New(service *lifecycle.Service, related RelatedEntities) (*Service, error) {
	if service == nil || related == nil {
		return nil, helper.NewError("dependency validation", fmt.Errorf("lifecycle service and related entities are required"))
	}
	if service.EntityType() != EntityType {
		return nil, helper.NewError("dependency validation", fmt.Errorf("lifecycle service manages %s, not %s", service.EntityType(), EntityType))
	}

	return &Service{
		lifecycle: service,
		related:   related,
	}, nil
}

// Add validates input and creates a kill chain phase.
func (s *Service) Add(ctx context.Context, user string, input KillChainPhase) (*model.Entity, error) {
	err := model.Validate(input)
	if err != nil {
		return nil, helper.NewError("input validation", err)
	}

	return s.lifecycle.Create(ctx, user, input.Attributes())
}

// FindAll returns all kill chain phases in creation order.
func (s *Service) FindAll(ctx context.Context, pagination model.Pagination) iter.Seq2[*model.Entity, error] {
	return s.lifecycle.FindAll(ctx, query.Filter{}, pagination)
}

// FindPage returns one page of kill chain phases in creation order.
func (s *Service) FindPage(ctx context.Context, pagination model.Pagination) (*model.EntityPage, error) {
	return s.lifecycle.FindPage(ctx, query.Filter{}, pagination)
}

// FindByID returns a kill chain phase.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	return s.lifecycle.FindByID(ctx, id)
}

// FindByPhaseName returns the phases with the exact phase name.
func (s *Service) FindByPhaseName(ctx context.Context, phaseName string, pagination model.Pagination) (*model.EntityPage, error) {
	return s.lifecycle.FindByAttribute(ctx, AttributePhaseName, phaseName, pagination)
}

// MarkingDefinitions returns the marking definitions referenced by the phase.
func (s *Service) MarkingDefinitions(ctx context.Context, id uuid.UUID, pagination model.Pagination) (*model.EntityPage, error) {
	return s.related.SelectRelatedEntities(ctx, id, model.RelationTypeObjectMarkingRefs, MarkingDefinitionType, false, pagination)
}

// Delete deletes a kill chain phase.
func (s *Service) Delete(ctx context.Context, user string, id uuid.UUID) (uuid.UUID, error) {
	return s.lifecycle.Delete(ctx, user, id)
}

// AddRelation adds a relation starting at the phase.
func (s *Service) AddRelation(ctx context.Context, user string, id uuid.UUID, input model.RelationInput) (*model.RelationData, error) {
	return s.lifecycle.AddRelation(ctx, user, id, input)
}

// DeleteRelation removes a relation starting at the phase.
func (s *Service) DeleteRelation(ctx context.Context, user string, id uuid.UUID, relationID uuid.UUID) (*model.RelationData, error) {
	return s.lifecycle.DeleteRelation(ctx, user, id, relationID)
}

// EditField changes fields of the phase. phase_order must stay a non negative integer.
func (s *Service) EditField(ctx context.Context, user string, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error) {
	for _, change := range changes {
		switch change.Key {
		case AttributeKillChainName, AttributePhaseName:
			name, ok := change.Value.(string)
			if !ok || name == "" {
				return nil, helper.NewError("change validation", model.NewValidationError("%s must be a non empty string", change.Key))
			}
		case AttributePhaseOrder:
			_, err := ParsePhaseOrder(change.Value)
			if err != nil {
				return nil, helper.NewError("change validation", err)
			}
		}
	}

	return s.lifecycle.EditField(ctx, user, id, changes)
}

// EditContext marks the phase as edited by user with the pending input.
func (s *Service) EditContext(ctx context.Context, user string, id uuid.UUID, input model.Attributes) (*model.Entity, error) {
	return s.lifecycle.EnterEditContext(ctx, user, id, input)
}

// CleanContext clears the edit context of the phase.
func (s *Service) CleanContext(ctx context.Context, user string, id uuid.UUID) (*model.Entity, error) {
	return s.lifecycle.LeaveEditContext(ctx, user, id)
}

// CurrentEditor returns the edit context of the phase, nil if nobody edits it.
func (s *Service) CurrentEditor(ctx context.Context, id uuid.UUID) (*model.EditContext, error) {
	return s.lifecycle.EditContext(ctx, id)
}
