// Package lifecycle orchestrates the mutations of one entity type.
//
// Every mutation runs its transactional work first and publishes the resulting
// entity state exactly once after success. A failed mutation publishes nothing
// and returns the store error unchanged.
package lifecycle

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/siherrmann/ctigraph/core/bus"
	"github.com/siherrmann/ctigraph/core/identity"
	"github.com/siherrmann/ctigraph/core/query"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the lifecycle spans.
const TracerName = "github.com/siherrmann/ctigraph/core/lifecycle"

// Operation names used for spans and metrics.
const (
	OperationCreate           = "create"
	OperationEditField        = "edit_field"
	OperationDelete           = "delete"
	OperationAddRelation      = "add_relation"
	OperationDeleteRelation   = "delete_relation"
	OperationEnterEditContext = "enter_edit_context"
	OperationLeaveEditContext = "leave_edit_context"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ctigraph",
		Subsystem: "lifecycle",
		Name:      "operations_total",
		Help:      "Lifecycle mutations by entity type, operation and outcome.",
	}, []string{"entity_type", "operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ctigraph",
		Subsystem: "lifecycle",
		Name:      "operation_duration_seconds",
		Help:      "Latency of lifecycle mutations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"entity_type", "operation"})
)

// EntityStore is the transactional entity repository.
type EntityStore interface {
	CreateEntity(ctx context.Context, entityType string, attributes model.Attributes) (*model.Entity, error)
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntitiesPage(ctx context.Context, filter query.Filter, pagination model.Pagination) (*model.EntityPage, error)
	SelectEntities(ctx context.Context, filter query.Filter, pagination model.Pagination) iter.Seq2[*model.Entity, error]
	SelectEntitiesByAttribute(ctx context.Context, entityType string, name string, value interface{}, pagination model.Pagination) (*model.EntityPage, error)
	UpdateEntityFields(ctx context.Context, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error)
	DeleteEntity(ctx context.Context, id uuid.UUID) error
}

// RelationStore creates and removes relations.
type RelationStore interface {
	InsertRelation(ctx context.Context, sourceID uuid.UUID, input model.RelationInput) (*model.RelationData, error)
	DeleteRelation(ctx context.Context, sourceID uuid.UUID, relationID uuid.UUID) (*model.RelationData, error)
}

// EditContexts records who edits which entity.
type EditContexts interface {
	Enter(ctx context.Context, userID string, entityID uuid.UUID, pendingInput model.Attributes) (*model.EditContext, error)
	Leave(ctx context.Context, userID string, entityID uuid.UUID) error
	Current(ctx context.Context, entityID uuid.UUID) (*model.EditContext, error)
}

// Publisher delivers notifications. Errors are logged, never returned to callers.
type Publisher interface {
	Publish(ctx context.Context, topic string, entity *model.Entity, user string) error
}

// Service runs the lifecycle operations of a single entity type.
type Service struct {
	entityType   string
	entities     EntityStore
	relations    RelationStore
	editContexts EditContexts
	publisher    Publisher
	tracer       trace.Tracer
	logger       *slog.Logger
}

// Option is a functional option for configuring Service.
type Option func(*Service)

// WithTracer sets the tracer of the service spans. Default is the global tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithLogger sets the logger of the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the lifecycle service of entityType.
func NewService(entityType string, entities EntityStore, relations RelationStore, editContexts EditContexts, publisher Publisher, opts ...Option) (*Service, error) {
	err := identity.ValidateEntityType(entityType)
	if err != nil {
		return nil, helper.NewError("entity type validation", err)
	}
	if entities == nil || relations == nil || editContexts == nil || publisher == nil {
		return nil, helper.NewError("dependency validation", errors.New("entity store, relation store, edit contexts and publisher are required"))
	}

	s := &Service{
		entityType:   entityType,
		entities:     entities,
		relations:    relations,
		editContexts: editContexts,
		publisher:    publisher,
		tracer:       otel.Tracer(TracerName),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "lifecycle", "entity_type", entityType)

	return s, nil
}

// EntityType returns the entity type managed by the service.
func (s *Service) EntityType() string {
	return s.entityType
}

// AddedTopic returns the topic notified on creation.
func (s *Service) AddedTopic() string {
	return bus.AddedTopic(s.entityType)
}

// EditTopic returns the topic notified on edits, relation changes and edit contexts.
func (s *Service) EditTopic() string {
	return bus.EditTopic(s.entityType)
}

// Create creates an entity and publishes it on the ADDED topic.
func (s *Service) Create(ctx context.Context, user string, attributes model.Attributes) (entity *model.Entity, err error) {
	ctx, finish := s.observe(ctx, OperationCreate, uuid.Nil)
	defer func() { finish(err) }()

	entity, err = s.entities.CreateEntity(ctx, s.entityType, attributes)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, s.AddedTopic(), entity, user)

	return entity, nil
}

// EditField applies changes and publishes the updated entity on the EDIT topic.
func (s *Service) EditField(ctx context.Context, user string, id uuid.UUID, changes []model.FieldChange) (entity *model.Entity, err error) {
	ctx, finish := s.observe(ctx, OperationEditField, id)
	defer func() { finish(err) }()

	_, err = s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entity, err = s.entities.UpdateEntityFields(ctx, id, changes)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, s.EditTopic(), entity, user)

	return entity, nil
}

// Delete deletes the entity and returns its id. It is idempotent and publishes nothing.
// Relations of the entity are not removed.
func (s *Service) Delete(ctx context.Context, user string, id uuid.UUID) (deleted uuid.UUID, err error) {
	ctx, finish := s.observe(ctx, OperationDelete, id)
	defer func() { finish(err) }()

	err = s.entities.DeleteEntity(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Debug("deleted entity", "id", id, "user", user)

	return id, nil
}

// AddRelation creates a relation from the entity id and publishes the source on the EDIT topic.
func (s *Service) AddRelation(ctx context.Context, user string, id uuid.UUID, input model.RelationInput) (data *model.RelationData, err error) {
	ctx, finish := s.observe(ctx, OperationAddRelation, id)
	defer func() { finish(err) }()

	_, err = s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err = s.relations.InsertRelation(ctx, id, input)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, s.EditTopic(), data.Node, user)

	return data, nil
}

// DeleteRelation deletes the relation relationID of the entity id and publishes the
// source on the EDIT topic. It fails with a not found error if the relation is gone.
func (s *Service) DeleteRelation(ctx context.Context, user string, id uuid.UUID, relationID uuid.UUID) (data *model.RelationData, err error) {
	ctx, finish := s.observe(ctx, OperationDeleteRelation, id)
	defer func() { finish(err) }()

	_, err = s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err = s.relations.DeleteRelation(ctx, id, relationID)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, s.EditTopic(), data.Node, user)

	return data, nil
}

// EnterEditContext marks the entity as edited by user and publishes the current entity
// on the EDIT topic. The marker is written first. When the entity does not exist the
// marker is kept until it expires, nothing is published and the returned entity is nil.
func (s *Service) EnterEditContext(ctx context.Context, user string, id uuid.UUID, pendingInput model.Attributes) (entity *model.Entity, err error) {
	ctx, finish := s.observe(ctx, OperationEnterEditContext, id)
	defer func() { finish(err) }()

	_, err = s.editContexts.Enter(ctx, user, id, pendingInput)
	if err != nil {
		return nil, err
	}

	return s.notifyCurrent(ctx, id, user)
}

// LeaveEditContext clears the edit context of the entity and publishes the current
// entity on the EDIT topic. The marker is removed even if the entity is gone, in that
// case nothing is published and the returned entity is nil.
func (s *Service) LeaveEditContext(ctx context.Context, user string, id uuid.UUID) (entity *model.Entity, err error) {
	ctx, finish := s.observe(ctx, OperationLeaveEditContext, id)
	defer func() { finish(err) }()

	err = s.editContexts.Leave(ctx, user, id)
	if err != nil {
		return nil, err
	}

	return s.notifyCurrent(ctx, id, user)
}

// notifyCurrent reloads the entity after an edit context change and publishes it.
func (s *Service) notifyCurrent(ctx context.Context, id uuid.UUID, user string) (*model.Entity, error) {
	entity, err := s.FindByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		s.logger.Debug("edit context changed for missing entity", "id", id, "user", user)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, s.EditTopic(), entity, user)

	return entity, nil
}

// EditContext returns who currently edits the entity, nil if nobody does.
func (s *Service) EditContext(ctx context.Context, id uuid.UUID) (*model.EditContext, error) {
	return s.editContexts.Current(ctx, id)
}

// FindByID returns the entity or a not found error. Entities of other types are not found.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	entity, err := s.entities.SelectEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Type != s.entityType {
		return nil, helper.NewError("type check", model.NewNotFoundError(s.entityType, id))
	}
	return entity, nil
}

// FindAll returns a lazy sequence of the entities of the service type matching filter.
func (s *Service) FindAll(ctx context.Context, filter query.Filter, pagination model.Pagination) iter.Seq2[*model.Entity, error] {
	filter.EntityType = s.entityType
	return s.entities.SelectEntities(ctx, filter, pagination)
}

// FindPage returns one page of the entities of the service type matching filter.
func (s *Service) FindPage(ctx context.Context, filter query.Filter, pagination model.Pagination) (*model.EntityPage, error) {
	filter.EntityType = s.entityType
	return s.entities.SelectEntitiesPage(ctx, filter, pagination)
}

// FindByAttribute returns the entities of the service type whose attribute name equals value.
func (s *Service) FindByAttribute(ctx context.Context, name string, value interface{}, pagination model.Pagination) (*model.EntityPage, error) {
	return s.entities.SelectEntitiesByAttribute(ctx, s.entityType, name, value, pagination)
}

func (s *Service) notify(ctx context.Context, topic string, entity *model.Entity, user string) {
	err := s.publisher.Publish(ctx, topic, entity, user)
	if err != nil {
		s.logger.Warn("notification not published", "topic", topic, "error", err)
	}
}

// observe starts the span of an operation. The returned function ends it and
// records the outcome metrics.
func (s *Service) observe(ctx context.Context, operation string, id uuid.UUID) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "ctigraph.lifecycle."+operation, trace.WithAttributes(
		attribute.String("ctigraph.entity_type", s.entityType),
		attribute.String("ctigraph.operation", operation),
	))
	if id != uuid.Nil {
		span.SetAttributes(attribute.String("ctigraph.entity_id", id.String()))
	}
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()

		operationDuration.WithLabelValues(s.entityType, operation).Observe(time.Since(start).Seconds())

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			operationsTotal.WithLabelValues(s.entityType, operation, outcome(err)).Inc()
			s.logger.Debug("operation failed", "operation", operation, "error", err)
			return
		}

		span.SetStatus(codes.Ok, "")
		operationsTotal.WithLabelValues(s.entityType, operation, "success").Inc()
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrValidation):
		return "validation_error"
	case errors.Is(err, model.ErrTransaction):
		return "transaction_error"
	default:
		return "error"
	}
}
