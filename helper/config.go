package helper

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultEditContextTTL bounds how long an abandoned edit marker survives.
	DefaultEditContextTTL = 5 * time.Minute
	// DefaultBusBufferSize is the per subscriber channel capacity.
	DefaultBusBufferSize = 100
)

// Configuration holds the non database settings of ctigraph.
type Configuration struct {
	// EditContextTTL is the expiry of edit markers in the key-value store.
	EditContextTTL time.Duration
	// BadgerPath is the directory of the edit context store. Empty means in-memory.
	BadgerPath string
	// BusBufferSize is the channel capacity of every bus subscriber.
	BusBufferSize int
	// LogLevel is the minimum level of the ctigraph logger.
	LogLevel slog.Level
}

// DefaultConfiguration returns the configuration used when no variables are set.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		EditContextTTL: DefaultEditContextTTL,
		BusBufferSize:  DefaultBusBufferSize,
		LogLevel:       slog.LevelInfo,
	}
}

// NewConfiguration reads the CTIGRAPH_EDIT_CONTEXT_TTL, CTIGRAPH_BADGER_PATH,
// CTIGRAPH_BUS_BUFFER and CTIGRAPH_LOG_LEVEL variables, falling back to the
// defaults for unset variables.
func NewConfiguration() (*Configuration, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	config := DefaultConfiguration()
	config.BadgerPath = strings.TrimSpace(os.Getenv("CTIGRAPH_BADGER_PATH"))

	if ttl := strings.TrimSpace(os.Getenv("CTIGRAPH_EDIT_CONTEXT_TTL")); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, NewError("parse CTIGRAPH_EDIT_CONTEXT_TTL", err)
		}
		if d < time.Second {
			return nil, NewError("validate CTIGRAPH_EDIT_CONTEXT_TTL", fmt.Errorf("ttl must be at least 1s, got %s", d))
		}
		config.EditContextTTL = d
	}

	if size := strings.TrimSpace(os.Getenv("CTIGRAPH_BUS_BUFFER")); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return nil, NewError("parse CTIGRAPH_BUS_BUFFER", err)
		}
		if n <= 0 {
			return nil, NewError("validate CTIGRAPH_BUS_BUFFER", fmt.Errorf("buffer size must be positive, got %d", n))
		}
		config.BusBufferSize = n
	}

	if level := strings.TrimSpace(os.Getenv("CTIGRAPH_LOG_LEVEL")); level != "" {
		err := config.LogLevel.UnmarshalText([]byte(level))
		if err != nil {
			return nil, NewError("parse CTIGRAPH_LOG_LEVEL", err)
		}
	}

	return config, nil
}
