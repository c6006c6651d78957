package lifecycle

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/core/identity"
	"github.com/siherrmann/ctigraph/core/query"
	"github.com/siherrmann/ctigraph/model"
)

var errStoreDown = errors.New("store down")

// memoryStore is an in-memory EntityStore and RelationStore. failNext makes
// the next mutation fail with a transaction error.
type memoryStore struct {
	mu        sync.Mutex
	entities  map[uuid.UUID]*model.Entity
	order     []uuid.UUID
	relations map[uuid.UUID]*model.Relation
	failNext  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		entities:  map[uuid.UUID]*model.Entity{},
		relations: map[uuid.UUID]*model.Relation{},
	}
}

func (m *memoryStore) fail() error {
	if m.failNext {
		m.failNext = false
		return model.NewTransactionError(errStoreDown)
	}
	return nil
}

func copyEntity(e *model.Entity) *model.Entity {
	c := *e
	c.Attributes = e.Attributes.Clone()
	return &c
}

func (m *memoryStore) CreateEntity(ctx context.Context, entityType string, attributes model.Attributes) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	stixID, err := identity.UUIDGenerator{}.NewStixID(entityType)
	if err != nil {
		return nil, err
	}

	now := identity.Now()
	buckets := identity.UTCIndexer{}.Index(now)
	if attributes == nil {
		attributes = model.Attributes{}
	}
	entity := &model.Entity{
		ID:             uuid.New(),
		StixID:         stixID,
		Type:           entityType,
		Attributes:     attributes.Clone(),
		Created:        now,
		Modified:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedAtMonth: buckets.Month,
		CreatedAtYear:  buckets.Year,
	}
	m.entities[entity.ID] = entity
	m.order = append(m.order, entity.ID)

	return copyEntity(entity), nil
}

func (m *memoryStore) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entity, ok := m.entities[id]
	if !ok {
		return nil, model.NewNotFoundError("entity", id)
	}
	return copyEntity(entity), nil
}

func (m *memoryStore) matching(filter query.Filter) []*model.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Entity
	for _, id := range m.order {
		entity, ok := m.entities[id]
		if ok && (filter.EntityType == "" || entity.Type == filter.EntityType) {
			out = append(out, copyEntity(entity))
		}
	}
	return out
}

func (m *memoryStore) SelectEntitiesPage(ctx context.Context, filter query.Filter, pagination model.Pagination) (*model.EntityPage, error) {
	offset, err := pagination.Offset()
	if err != nil {
		return nil, err
	}
	all := m.matching(filter)
	page := &model.EntityPage{PageInfo: model.PageInfo{GlobalCount: len(all)}}
	for i := offset; i < len(all) && i < offset+pagination.Limit(); i++ {
		page.Edges = append(page.Edges, &model.EntityEdge{Cursor: model.EncodeCursor(i + 1), Node: all[i]})
	}
	page.PageInfo.HasNextPage = offset+len(page.Edges) < len(all)
	return page, nil
}

func (m *memoryStore) SelectEntities(ctx context.Context, filter query.Filter, pagination model.Pagination) iter.Seq2[*model.Entity, error] {
	return func(yield func(*model.Entity, error) bool) {
		for _, entity := range m.matching(filter) {
			if !yield(entity, nil) {
				return
			}
		}
	}
}

func (m *memoryStore) SelectEntitiesByAttribute(ctx context.Context, entityType string, name string, value interface{}, pagination model.Pagination) (*model.EntityPage, error) {
	page := &model.EntityPage{}
	for _, entity := range m.matching(query.Filter{EntityType: entityType}) {
		if entity.Attributes[name] == value {
			page.Edges = append(page.Edges, &model.EntityEdge{Node: entity})
		}
	}
	page.PageInfo.GlobalCount = len(page.Edges)
	return page, nil
}

func (m *memoryStore) UpdateEntityFields(ctx context.Context, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	entity, ok := m.entities[id]
	if !ok {
		return nil, model.NewNotFoundError("entity", id)
	}
	for _, change := range changes {
		if model.ImmutableFields[change.Key] {
			return nil, model.NewValidationError("field %q is immutable", change.Key)
		}
	}
	for _, change := range changes {
		if change.Value == nil {
			delete(entity.Attributes, change.Key)
			continue
		}
		entity.Attributes[change.Key] = change.Value
	}
	m.touch(entity)
	entity.Modified = entity.UpdatedAt

	return copyEntity(entity), nil
}

func (m *memoryStore) touch(entity *model.Entity) {
	next := identity.Now()
	if !next.After(entity.UpdatedAt) {
		next = entity.UpdatedAt.Add(time.Microsecond)
	}
	entity.UpdatedAt = next
}

func (m *memoryStore) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return err
	}
	delete(m.entities, id)
	return nil
}

func (m *memoryStore) InsertRelation(ctx context.Context, sourceID uuid.UUID, input model.RelationInput) (*model.RelationData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	source, ok := m.entities[sourceID]
	if !ok {
		return nil, model.NewNotFoundError("entity", sourceID)
	}
	if _, ok := m.entities[input.ToID]; !ok {
		return nil, model.NewNotFoundError("entity", input.ToID)
	}

	relation := &model.Relation{
		ID:           uuid.New(),
		SourceID:     sourceID,
		TargetID:     input.ToID,
		RelationType: input.RelationType,
		FromRole:     model.DefaultFromRole,
		ToRole:       model.DefaultToRole,
	}
	m.relations[relation.ID] = relation
	m.touch(source)

	return &model.RelationData{Relation: relation, Node: copyEntity(source)}, nil
}

func (m *memoryStore) DeleteRelation(ctx context.Context, sourceID uuid.UUID, relationID uuid.UUID) (*model.RelationData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail(); err != nil {
		return nil, err
	}
	relation, ok := m.relations[relationID]
	if !ok || relation.SourceID != sourceID {
		return nil, model.NewNotFoundError("relation", relationID)
	}
	source, ok := m.entities[sourceID]
	if !ok {
		return nil, model.NewNotFoundError("entity", sourceID)
	}
	delete(m.relations, relationID)
	m.touch(source)

	return &model.RelationData{Relation: relation, Node: copyEntity(source)}, nil
}

// recorder is a Publisher remembering every notification.
type recorder struct {
	mu            sync.Mutex
	notifications []recorded
	err           error
}

type recorded struct {
	topic  string
	entity *model.Entity
	user   string
}

func (r *recorder) Publish(ctx context.Context, topic string, entity *model.Entity, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, recorded{topic: topic, entity: entity, user: user})
	return r.err
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]recorded(nil), r.notifications...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = nil
}
