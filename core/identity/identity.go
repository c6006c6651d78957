// Package identity generates the external identifiers of entities and the
// temporal index buckets derived from their creation timestamp.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/model"
)

const (
	// Separator between the entity type and the uuid of a stix id.
	Separator = "--"
	// MonthFormat is the layout of the created_at_month bucket.
	MonthFormat = "2006-01"
	// YearFormat is the layout of the created_at_year bucket.
	YearFormat = "2006"
)

var entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Generator produces globally unique stix identifiers.
type Generator interface {
	NewStixID(entityType string) (string, error)
}

// UUIDGenerator builds stix ids from random (version 4) uuids.
type UUIDGenerator struct{}

// NewStixID returns "<entityType>--<uuid>".
func (UUIDGenerator) NewStixID(entityType string) (string, error) {
	if err := ValidateEntityType(entityType); err != nil {
		return "", err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return FormatStixID(entityType, id), nil
}

// FormatStixID joins entity type and uuid.
func FormatStixID(entityType string, id uuid.UUID) string {
	return entityType + Separator + id.String()
}

// ParseStixID splits a stix id into entity type and uuid.
func ParseStixID(stixID string) (string, uuid.UUID, error) {
	i := strings.LastIndex(stixID, Separator)
	if i <= 0 {
		return "", uuid.Nil, model.NewValidationError("invalid stix id %q", stixID)
	}
	entityType := stixID[:i]
	id, err := uuid.Parse(stixID[i+len(Separator):])
	if err != nil || ValidateEntityType(entityType) != nil {
		return "", uuid.Nil, model.NewValidationError("invalid stix id %q", stixID)
	}
	return entityType, id, nil
}

// ValidateEntityType accepts lower case, dash separated type names like "kill-chain-phase".
func ValidateEntityType(entityType string) error {
	if !entityTypePattern.MatchString(entityType) {
		return model.NewValidationError("invalid entity type %q", entityType)
	}
	return nil
}

// Buckets are the coarse time buckets of a creation timestamp.
type Buckets struct {
	Month string
	Year  string
}

// Indexer derives Buckets from a timestamp.
type Indexer interface {
	Index(t time.Time) Buckets
}

// UTCIndexer computes buckets in UTC so they do not depend on the server zone.
type UTCIndexer struct{}

// Index returns the month and year buckets of t.
func (UTCIndexer) Index(t time.Time) Buckets {
	utc := t.UTC()
	return Buckets{
		Month: utc.Format(MonthFormat),
		Year:  utc.Format(YearFormat),
	}
}

// Now returns the current time in UTC truncated to the microsecond precision of the store.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
