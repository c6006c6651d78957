package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	loadSql "github.com/siherrmann/ctigraph/sql"
)

// RelationsDBHandlerFunctions defines the interface for Relations database operations.
type RelationsDBHandlerFunctions interface {
	InsertRelation(ctx context.Context, sourceID uuid.UUID, input model.RelationInput) (*model.RelationData, error)
	DeleteRelation(ctx context.Context, sourceID uuid.UUID, relationID uuid.UUID) (*model.RelationData, error)
	SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error)
	SelectRelationsFrom(ctx context.Context, sourceID uuid.UUID, relationType string) ([]*model.Relation, error)
	SelectRelationsTo(ctx context.Context, targetID uuid.UUID, relationType string) ([]*model.Relation, error)
	SelectRelatedEntities(ctx context.Context, entityID uuid.UUID, relationType string, entityType string, incoming bool, pagination model.Pagination) (*model.EntityPage, error)
}

// RelationsDBHandler handles relation-related database operations
type RelationsDBHandler struct {
	db *helper.Database
}

// NewRelationsDBHandler creates a new relations database handler.
// It initializes the database connection and loads relation-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
// The entities functions must be loaded before, insert_relation locks entity rows.
func NewRelationsDBHandler(db *helper.Database, force bool) (*RelationsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationsDbHandler := &RelationsDBHandler{
		db: db,
	}

	err := loadSql.LoadRelationsSql(relationsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relations sql", err)
	}

	err = relationsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationsDBHandler")

	return relationsDbHandler, nil
}

// CreateTable creates the 'relations' table in the database.
// If the table already exists, it does not create it again.
func (h *RelationsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relations();`)
	if err != nil {
		log.Panicf("error initializing relations table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table relations")

	return nil
}

// InsertRelation creates a relation from sourceID to input.ToID. Both endpoints must
// exist. The source is touched and returned reloaded as node of the result.
func (h *RelationsDBHandler) InsertRelation(ctx context.Context, sourceID uuid.UUID, input model.RelationInput) (*model.RelationData, error) {
	err := model.Validate(input)
	if err != nil {
		return nil, helper.NewError("input validation", err)
	}
	if input.FromRole == "" {
		input.FromRole = model.DefaultFromRole
	}
	if input.ToRole == "" {
		input.ToRole = model.DefaultToRole
	}

	data := &model.RelationData{}
	err = withTx(ctx, h.db, func(tx *sql.Tx) error {
		relation, err := scanRelation(tx.QueryRowContext(
			ctx,
			`SELECT * FROM insert_relation($1, $2, $3, $4, $5)`,
			sourceID,
			input.ToID,
			input.RelationType,
			input.FromRole,
			input.ToRole,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return helper.NewError("insert", model.NewNotFoundError("relation endpoint", fmt.Sprintf("%s -> %s", sourceID, input.ToID)))
		}
		if err != nil {
			return helper.NewError("insert", storeError(err))
		}
		data.Relation = relation

		data.Node, err = touchAndReload(ctx, tx, sourceID)
		if err != nil {
			return helper.NewError("reload source", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// DeleteRelation deletes the relation relationID starting at sourceID.
// It returns a not found error if there is no such relation.
func (h *RelationsDBHandler) DeleteRelation(ctx context.Context, sourceID uuid.UUID, relationID uuid.UUID) (*model.RelationData, error) {
	data := &model.RelationData{}
	err := withTx(ctx, h.db, func(tx *sql.Tx) error {
		relation, err := scanRelation(tx.QueryRowContext(
			ctx,
			`SELECT * FROM delete_relation($1, $2)`,
			relationID,
			sourceID,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return helper.NewError("delete", model.NewNotFoundError("relation", relationID))
		}
		if err != nil {
			return helper.NewError("delete", storeError(err))
		}
		data.Relation = relation

		data.Node, err = touchAndReload(ctx, tx, sourceID)
		if err != nil {
			return helper.NewError("reload source", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// SelectRelation retrieves a relation by ID
func (h *RelationsDBHandler) SelectRelation(ctx context.Context, id uuid.UUID) (*model.Relation, error) {
	relation, err := scanRelation(h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_relation($1)`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("scan", model.NewNotFoundError("relation", id))
	}
	if err != nil {
		return nil, helper.NewError("scan", storeError(err))
	}

	return relation, nil
}

// SelectRelationsFrom retrieves the relations starting at sourceID.
// An empty relationType matches all types.
func (h *RelationsDBHandler) SelectRelationsFrom(ctx context.Context, sourceID uuid.UUID, relationType string) ([]*model.Relation, error) {
	return h.selectRelations(ctx, `SELECT * FROM select_relations_from($1, $2)`, sourceID, relationType)
}

// SelectRelationsTo retrieves the relations ending at targetID.
// An empty relationType matches all types.
func (h *RelationsDBHandler) SelectRelationsTo(ctx context.Context, targetID uuid.UUID, relationType string) ([]*model.Relation, error) {
	return h.selectRelations(ctx, `SELECT * FROM select_relations_to($1, $2)`, targetID, relationType)
}

func (h *RelationsDBHandler) selectRelations(ctx context.Context, statement string, entityID uuid.UUID, relationType string) ([]*model.Relation, error) {
	rows, err := h.db.Instance.QueryContext(ctx, statement, entityID, nullString(relationType))
	if err != nil {
		return nil, helper.NewError("query", storeError(err))
	}
	defer rows.Close()

	var relations []*model.Relation
	for rows.Next() {
		relation, err := scanRelation(rows)
		if err != nil {
			return nil, helper.NewError("scan", storeError(err))
		}

		relations = append(relations, relation)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", storeError(err))
	}

	return relations, nil
}

// SelectRelatedEntities retrieves one page of the entities on the other end of the
// relations of entityID. With incoming the relations ending at entityID are followed.
// Empty relationType and entityType match everything. Dangling relations are skipped.
func (h *RelationsDBHandler) SelectRelatedEntities(ctx context.Context, entityID uuid.UUID, relationType string, entityType string, incoming bool, pagination model.Pagination) (*model.EntityPage, error) {
	offset, err := pagination.Offset()
	if err != nil {
		return nil, helper.NewError("cursor", err)
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_related_entities($1, $2, $3, $4, $5, $6)`,
		entityID,
		nullString(relationType),
		nullString(entityType),
		incoming,
		pagination.Limit(),
		offset,
	)
	if err != nil {
		return nil, helper.NewError("query", storeError(err))
	}
	defer rows.Close()

	var entities []*model.Entity
	total := 0
	for rows.Next() {
		var rowTotal int
		entity, err := scanEntity(rows, &rowTotal)
		if err != nil {
			return nil, helper.NewError("scan", storeError(err))
		}

		total = rowTotal
		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", storeError(err))
	}

	if len(entities) == 0 && offset > 0 {
		// The window count is only known when the page has rows.
		total, err = h.countRelatedEntities(ctx, entityID, relationType, entityType, incoming)
		if err != nil {
			return nil, err
		}
	}

	return buildPage(entities, offset, total), nil
}

func (h *RelationsDBHandler) countRelatedEntities(ctx context.Context, entityID uuid.UUID, relationType string, entityType string, incoming bool) (int, error) {
	var total int
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM select_related_entities($1, $2, $3, $4, NULL, 0)`,
		entityID,
		nullString(relationType),
		nullString(entityType),
		incoming,
	).Scan(&total)
	if err != nil {
		return 0, helper.NewError("count", storeError(err))
	}
	return total, nil
}

// touchAndReload refreshes updated_at of the entity and reads it back.
func touchAndReload(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Entity, error) {
	_, err := tx.ExecContext(ctx, `SELECT touch_entity($1)`, id)
	if err != nil {
		return nil, helper.NewError("touch", storeError(err))
	}

	entity, err := scanEntity(tx.QueryRowContext(ctx, `SELECT * FROM select_entity($1)`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("scan", model.NewNotFoundError("entity", id))
	}
	if err != nil {
		return nil, helper.NewError("scan", storeError(err))
	}

	return entity, nil
}
