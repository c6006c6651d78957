package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

// entityColumns is the column list matching scanEntity.
const entityColumns = `e.id, e.stix_id, e.entity_type, e.attributes,
	e.created, e.modified, e.created_at, e.updated_at,
	e.created_at_month, e.created_at_year, e.revoked`

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity scans one entity row. extra receives additional trailing columns.
func scanEntity(row scanner, extra ...interface{}) (*model.Entity, error) {
	entity := &model.Entity{}
	dest := []interface{}{
		&entity.ID,
		&entity.StixID,
		&entity.Type,
		&entity.Attributes,
		&entity.Created,
		&entity.Modified,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&entity.CreatedAtMonth,
		&entity.CreatedAtYear,
		&entity.Revoked,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	entity.Created = entity.Created.UTC()
	entity.Modified = entity.Modified.UTC()
	entity.CreatedAt = entity.CreatedAt.UTC()
	entity.UpdatedAt = entity.UpdatedAt.UTC()

	return entity, nil
}

func scanRelation(row scanner) (*model.Relation, error) {
	relation := &model.Relation{}
	err := row.Scan(
		&relation.ID,
		&relation.SourceID,
		&relation.TargetID,
		&relation.RelationType,
		&relation.FromRole,
		&relation.ToRole,
		&relation.Created,
		&relation.Modified,
	)
	if err != nil {
		return nil, err
	}

	relation.Created = relation.Created.UTC()
	relation.Modified = relation.Modified.UTC()

	return relation, nil
}

// storeError classifies errors of the database driver. Rejections of the
// store become transaction errors, errors of this module pass unchanged.
func storeError(err error) error {
	var pqErr *pq.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrTransaction):
		return err
	case errors.As(err, &pqErr):
		return model.NewTransactionError(fmt.Errorf("%s: %w", pqErr.Code.Name(), err))
	default:
		return model.NewTransactionError(err)
	}
}

// withTx runs fn inside a transaction. It commits if fn succeeds and rolls back otherwise.
func withTx(ctx context.Context, db *helper.Database, fn func(tx *sql.Tx) error) error {
	tx, err := db.Instance.BeginTx(ctx, nil)
	if err != nil {
		return helper.NewError("begin", storeError(err))
	}

	err = fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			db.Logger.Warn("Rollback failed", "error", rollbackErr)
		}
		return err
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit", storeError(err))
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
