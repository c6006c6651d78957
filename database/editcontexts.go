package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/siherrmann/ctigraph/helper"
)

const editContextKeyPrefix = "edit_context/"

// EditContextsKVHandlerFunctions defines the interface for the edit context key-value store.
type EditContextsKVHandlerFunctions interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// EditContextsKVHandler stores edit contexts in BadgerDB. Entries expire through the
// badger TTL, expired entries are invisible to Get.
type EditContextsKVHandler struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts slog.Logger to the badger Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewEditContextsKVHandler opens the edit context store at path.
// An empty path opens an in-memory store.
func NewEditContextsKVHandler(path string, logger *slog.Logger) (*EditContextsKVHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "edit_contexts")

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		err := os.MkdirAll(path, 0750)
		if err != nil {
			return nil, helper.NewError("create badger directory", err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, helper.NewError("open badger", err)
	}

	logger.Info("Initialized EditContextsKVHandler", "in_memory", path == "")

	return &EditContextsKVHandler{
		db:     db,
		logger: logger,
	}, nil
}

// Set stores value under key. A positive ttl lets the entry expire.
func (h *EditContextsKVHandler) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return helper.NewError("context", err)
	}

	err := h.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(editContextKeyPrefix+key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return helper.NewError("set", err)
	}

	return nil
}

// Get returns the value stored under key. The bool is false if there is no
// entry or it expired.
func (h *EditContextsKVHandler) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, helper.NewError("context", err)
	}

	var value []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(editContextKeyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, helper.NewError("get", err)
	}

	return value, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (h *EditContextsKVHandler) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return helper.NewError("context", err)
	}

	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(editContextKeyPrefix + key))
	})
	if err != nil {
		return helper.NewError("delete", err)
	}

	return nil
}

// Close closes the badger database.
func (h *EditContextsKVHandler) Close() error {
	return h.db.Close()
}
