package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/siherrmann/ctigraph/core/identity"
	"github.com/siherrmann/ctigraph/core/query"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	loadSql "github.com/siherrmann/ctigraph/sql"
)

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	CreateEntity(ctx context.Context, entityType string, attributes model.Attributes) (*model.Entity, error)
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntityByStixID(ctx context.Context, stixID string) (*model.Entity, error)
	SelectEntitiesPage(ctx context.Context, filter query.Filter, pagination model.Pagination) (*model.EntityPage, error)
	SelectEntities(ctx context.Context, filter query.Filter, pagination model.Pagination) iter.Seq2[*model.Entity, error]
	SelectEntitiesByAttribute(ctx context.Context, entityType string, name string, value interface{}, pagination model.Pagination) (*model.EntityPage, error)
	UpdateEntityFields(ctx context.Context, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error)
	DeleteEntity(ctx context.Context, id uuid.UUID) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db        *helper.Database
	generator identity.Generator
	indexer   identity.Indexer
	now       func() time.Time
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db:        db,
		generator: identity.UUIDGenerator{},
		indexer:   identity.UTCIndexer{},
		now:       identity.Now,
	}

	err := loadSql.Init(entitiesDbHandler.db.Instance)
	if err != nil {
		return nil, helper.NewError("init extensions", err)
	}

	err = loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes and the immutability trigger.
func (h *EntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities();`)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// CreateEntity creates an entity of entityType in one transaction. The stix id and
// the temporal buckets are derived here, the entity is read back before commit.
func (h *EntitiesDBHandler) CreateEntity(ctx context.Context, entityType string, attributes model.Attributes) (*model.Entity, error) {
	if attributes == nil {
		attributes = model.Attributes{}
	}
	for key := range attributes {
		if model.ImmutableFields[key] || key == model.FieldRevoked {
			return nil, helper.NewError("attribute validation", model.NewValidationError("%q is not an attribute", key))
		}
		err := query.ValidateAttributeName(key)
		if err != nil {
			return nil, helper.NewError("attribute validation", err)
		}
	}

	stixID, err := h.generator.NewStixID(entityType)
	if err != nil {
		return nil, helper.NewError("generate stix id", err)
	}

	now := h.now()
	buckets := h.indexer.Index(now)

	var entity *model.Entity
	err = withTx(ctx, h.db, func(tx *sql.Tx) error {
		var id uuid.UUID
		err := tx.QueryRowContext(
			ctx,
			`SELECT insert_entity($1, $2, $3, $4, $5, $6)`,
			stixID,
			entityType,
			attributes,
			now,
			buckets.Month,
			buckets.Year,
		).Scan(&id)
		if err != nil {
			return helper.NewError("insert", storeError(err))
		}

		entity, err = scanEntity(tx.QueryRowContext(ctx, `SELECT * FROM select_entity($1)`, id))
		if err != nil {
			return helper.NewError("reload", storeError(err))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}

// SelectEntity retrieves an entity by its internal ID
func (h *EntitiesDBHandler) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	entity, err := scanEntity(h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_entity($1)`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("scan", model.NewNotFoundError("entity", id))
	}
	if err != nil {
		return nil, helper.NewError("scan", storeError(err))
	}

	return entity, nil
}

// SelectEntityByStixID retrieves an entity by its stix id
func (h *EntitiesDBHandler) SelectEntityByStixID(ctx context.Context, stixID string) (*model.Entity, error) {
	entity, err := scanEntity(h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_entity_by_stix_id($1)`,
		stixID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("scan", model.NewNotFoundError("entity", stixID))
	}
	if err != nil {
		return nil, helper.NewError("scan", storeError(err))
	}

	return entity, nil
}

// SelectEntitiesPage retrieves one page of the entities matching filter.
// The filter is compiled to bind parameters only.
func (h *EntitiesDBHandler) SelectEntitiesPage(ctx context.Context, filter query.Filter, pagination model.Pagination) (*model.EntityPage, error) {
	offset, err := pagination.Offset()
	if err != nil {
		return nil, helper.NewError("cursor", err)
	}
	limit := pagination.Limit()

	b := query.NewBuilder("e")
	where, err := filter.Where(b)
	if err != nil {
		return nil, helper.NewError("where", err)
	}
	order, err := filter.Order(b)
	if err != nil {
		return nil, helper.NewError("order", err)
	}

	var total int
	err = h.db.Instance.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM entities e WHERE `+where,
		b.Args()...,
	).Scan(&total)
	if err != nil {
		return nil, helper.NewError("count", storeError(err))
	}

	limitPlaceholder := b.Bind(query.Int(limit))
	offsetPlaceholder := b.Bind(query.Int(offset))
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities e WHERE `+where+
			` ORDER BY `+order+` LIMIT `+limitPlaceholder+` OFFSET `+offsetPlaceholder,
		b.Args()...,
	)
	if err != nil {
		return nil, helper.NewError("query", storeError(err))
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, helper.NewError("scan", storeError(err))
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", storeError(err))
	}

	return buildPage(entities, offset, total), nil
}

// SelectEntities returns a lazy sequence of the entities matching filter.
// Entities are fetched page by page starting at pagination.After. If pagination.First
// is set it caps the number of yielded entities, otherwise the sequence runs to the end.
// Every range over the sequence starts a new read.
func (h *EntitiesDBHandler) SelectEntities(ctx context.Context, filter query.Filter, pagination model.Pagination) iter.Seq2[*model.Entity, error] {
	return func(yield func(*model.Entity, error) bool) {
		remaining := pagination.First
		after := pagination.After
		for {
			batch := model.DefaultPageSize
			if remaining > 0 && remaining < batch {
				batch = remaining
			}

			page, err := h.SelectEntitiesPage(ctx, filter, model.Pagination{First: batch, After: after})
			if err != nil {
				yield(nil, err)
				return
			}

			for _, edge := range page.Edges {
				if !yield(edge.Node, nil) {
					return
				}
			}

			if remaining > 0 {
				remaining -= len(page.Edges)
				if remaining <= 0 {
					return
				}
			}
			if !page.PageInfo.HasNextPage || len(page.Edges) == 0 {
				return
			}
			after = page.PageInfo.EndCursor
		}
	}
}

// SelectEntitiesByAttribute retrieves the entities whose attribute name equals value.
// An empty entityType matches all types.
func (h *EntitiesDBHandler) SelectEntitiesByAttribute(ctx context.Context, entityType string, name string, value interface{}, pagination model.Pagination) (*model.EntityPage, error) {
	filter := query.Filter{
		EntityType: entityType,
		Conditions: []query.Condition{query.AttributeEq(name, value)},
	}

	page, err := h.SelectEntitiesPage(ctx, filter, pagination)
	if err != nil {
		return nil, helper.NewError("select by attribute", err)
	}

	return page, nil
}

// UpdateEntityFields applies changes to an entity in one statement. A change with a nil
// value removes the attribute. updated_at and modified are refreshed by the store.
func (h *EntitiesDBHandler) UpdateEntityFields(ctx context.Context, id uuid.UUID, changes []model.FieldChange) (*model.Entity, error) {
	set := model.Attributes{}
	remove := []string{}
	var revoked *bool

	for _, change := range changes {
		err := model.Validate(change)
		if err != nil {
			return nil, helper.NewError("change validation", err)
		}

		switch {
		case model.ImmutableFields[change.Key]:
			return nil, helper.NewError("change validation", model.NewValidationError("field %q is immutable", change.Key))
		case change.Key == model.FieldRevoked:
			b, ok := change.Value.(bool)
			if !ok {
				return nil, helper.NewError("change validation", model.NewValidationError("field %q must be a boolean", change.Key))
			}
			revoked = &b
		default:
			err := query.ValidateAttributeName(change.Key)
			if err != nil {
				return nil, helper.NewError("change validation", err)
			}
			if change.Value == nil {
				delete(set, change.Key)
				remove = append(remove, change.Key)
				continue
			}
			set[change.Key] = change.Value
		}
	}

	var entity *model.Entity
	err := withTx(ctx, h.db, func(tx *sql.Tx) error {
		var err error
		entity, err = scanEntity(tx.QueryRowContext(
			ctx,
			`SELECT * FROM update_entity_fields($1, $2, $3, $4)`,
			id,
			set,
			pq.Array(remove),
			revoked,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return helper.NewError("update", model.NewNotFoundError("entity", id))
		}
		if err != nil {
			return helper.NewError("update", storeError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entity, nil
}

// DeleteEntity deletes an entity by ID. Deleting a missing entity is not an error.
// Relations of the entity are kept.
func (h *EntitiesDBHandler) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	var deleted int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT delete_entity($1)`,
		id,
	).Scan(&deleted)
	if err != nil {
		return helper.NewError("exec", storeError(err))
	}

	if deleted == 0 {
		h.db.Logger.Debug("Entity to delete did not exist", "id", id)
	}

	return nil
}

// buildPage attaches cursors to entities found at offset of total matches.
func buildPage(entities []*model.Entity, offset int, total int) *model.EntityPage {
	page := &model.EntityPage{
		Edges: make([]*model.EntityEdge, 0, len(entities)),
		PageInfo: model.PageInfo{
			HasPreviousPage: offset > 0,
			GlobalCount:     total,
		},
	}

	for i, entity := range entities {
		page.Edges = append(page.Edges, &model.EntityEdge{
			Cursor: model.EncodeCursor(offset + i + 1),
			Node:   entity,
		})
	}

	if len(page.Edges) > 0 {
		page.PageInfo.StartCursor = page.Edges[0].Cursor
		page.PageInfo.EndCursor = page.Edges[len(page.Edges)-1].Cursor
	}
	page.PageInfo.HasNextPage = offset+len(entities) < total

	return page
}
