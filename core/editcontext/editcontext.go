// Package editcontext tracks which user is currently editing which entity.
//
// Edit contexts are advisory. They never block a write, a newer Enter replaces
// the holder (last writer wins) and a forgotten context expires after the TTL.
package editcontext

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

// Store is the key-value store holding the edit contexts.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Coordinator manages the edit contexts of all entities.
type Coordinator struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a coordinator. A non positive ttl uses helper.DefaultEditContextTTL.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = helper.DefaultEditContextTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		store:  store,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "edit_context"),
	}
}

// TTL returns the expiry of new edit contexts.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Enter records that userID edits entityID, replacing any previous holder.
func (c *Coordinator) Enter(ctx context.Context, userID string, entityID uuid.UUID, pendingInput model.Attributes) (*model.EditContext, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, helper.NewError("enter", model.NewValidationError("user id is required"))
	}

	now := c.now()
	editContext := &model.EditContext{
		EntityID:     entityID,
		UserID:       userID,
		PendingInput: pendingInput,
		EnteredAt:    now,
		ExpiresAt:    now.Add(c.ttl),
	}

	value, err := json.Marshal(editContext)
	if err != nil {
		return nil, helper.NewError("marshal", err)
	}

	err = c.store.Set(ctx, entityID.String(), value, c.ttl)
	if err != nil {
		return nil, helper.NewError("enter", model.NewTransactionError(err))
	}

	c.logger.Debug("entered edit context", "entity_id", entityID, "user_id", userID)

	return editContext, nil
}

// Leave removes the edit context of entityID regardless of who holds it.
func (c *Coordinator) Leave(ctx context.Context, userID string, entityID uuid.UUID) error {
	err := c.store.Delete(ctx, entityID.String())
	if err != nil {
		return helper.NewError("leave", model.NewTransactionError(err))
	}

	c.logger.Debug("left edit context", "entity_id", entityID, "user_id", userID)

	return nil
}

// Current returns the edit context of entityID, nil if nobody edits it.
func (c *Coordinator) Current(ctx context.Context, entityID uuid.UUID) (*model.EditContext, error) {
	value, ok, err := c.store.Get(ctx, entityID.String())
	if err != nil {
		return nil, helper.NewError("current", model.NewTransactionError(err))
	}
	if !ok {
		return nil, nil
	}

	editContext := &model.EditContext{}
	err = json.Unmarshal(value, editContext)
	if err != nil {
		return nil, helper.NewError("unmarshal", err)
	}

	return editContext, nil
}
