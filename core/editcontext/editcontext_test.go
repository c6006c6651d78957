package editcontext

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/database"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(t *testing.T, ttl time.Duration) *Coordinator {
	kv, err := database.NewEditContextsKVHandler("", nil)
	require.NoError(t, err, "Expected in-memory store to open")
	t.Cleanup(func() { kv.Close() })

	return New(kv, ttl, nil)
}

func TestNew(t *testing.T) {
	t.Run("Default ttl", func(t *testing.T) {
		c := New(nil, 0, nil)
		assert.Equal(t, helper.DefaultEditContextTTL, c.TTL())
	})

	t.Run("Custom ttl", func(t *testing.T) {
		c := New(nil, time.Minute, nil)
		assert.Equal(t, time.Minute, c.TTL())
	})
}

func TestEnterLeave(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, time.Minute)

	t.Run("Enter and read back", func(t *testing.T) {
		entityID := uuid.New()

		entered, err := c.Enter(ctx, "alice", entityID, model.Attributes{"phase_name": "draft"})
		require.NoError(t, err)
		assert.Equal(t, "alice", entered.UserID)
		assert.Equal(t, entered.EnteredAt.Add(time.Minute), entered.ExpiresAt)

		current, err := c.Current(ctx, entityID)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, entityID, current.EntityID)
		assert.Equal(t, "alice", current.UserID)
		assert.Equal(t, "draft", current.PendingInput.String("phase_name"))
	})

	t.Run("Last writer wins", func(t *testing.T) {
		entityID := uuid.New()

		_, err := c.Enter(ctx, "alice", entityID, nil)
		require.NoError(t, err)
		_, err = c.Enter(ctx, "bob", entityID, nil)
		require.NoError(t, err)

		current, err := c.Current(ctx, entityID)
		require.NoError(t, err)
		assert.Equal(t, "bob", current.UserID)
	})

	t.Run("Leave removes the context of any holder", func(t *testing.T) {
		entityID := uuid.New()

		_, err := c.Enter(ctx, "alice", entityID, nil)
		require.NoError(t, err)

		err = c.Leave(ctx, "bob", entityID)
		require.NoError(t, err)

		current, err := c.Current(ctx, entityID)
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("Leave without context", func(t *testing.T) {
		assert.NoError(t, c.Leave(ctx, "alice", uuid.New()))
	})

	t.Run("Enter without user", func(t *testing.T) {
		_, err := c.Enter(ctx, " ", uuid.New(), nil)
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Concurrent enters leave one holder", func(t *testing.T) {
		entityID := uuid.New()
		users := []string{"u1", "u2", "u3", "u4", "u5"}

		var wg sync.WaitGroup
		for _, user := range users {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := c.Enter(ctx, user, entityID, nil)
				assert.NoError(t, err)
			}(user)
		}
		wg.Wait()

		current, err := c.Current(ctx, entityID)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Contains(t, users, current.UserID)
	})
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, time.Second)
	entityID := uuid.New()

	_, err := c.Enter(ctx, "alice", entityID, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		current, err := c.Current(ctx, entityID)
		return err == nil && current == nil
	}, 5*time.Second, 100*time.Millisecond, "Expected the edit context to expire")
}

type failingStore struct{}

var errStore = errors.New("store unavailable")

func (failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errStore
}

func (failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errStore
}

func (failingStore) Delete(ctx context.Context, key string) error {
	return errStore
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	c := New(failingStore{}, time.Minute, nil)

	_, err := c.Enter(ctx, "alice", uuid.New(), nil)
	assert.ErrorIs(t, err, model.ErrTransaction)
	assert.ErrorIs(t, err, errStore)

	err = c.Leave(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, model.ErrTransaction)

	_, err = c.Current(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrTransaction)
}
