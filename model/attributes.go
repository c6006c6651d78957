package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/siherrmann/ctigraph/helper"
)

// Attributes represents the entity type specific fields stored as JSONB.
type Attributes map[string]interface{}

// Value implements the driver.Valuer interface for database storage
func (a Attributes) Value() (driver.Value, error) {
	return a.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (a *Attributes) Scan(value interface{}) error {
	return a.Unmarshal(value)
}

// Marshal converts Attributes to JSON bytes
func (a Attributes) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// Unmarshal converts JSON bytes or Attributes to Attributes
func (a *Attributes) Unmarshal(value interface{}) error {
	if value == nil {
		*a = Attributes{}
		return nil
	}

	if s, ok := value.(Attributes); ok {
		*a = Attributes(s)
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, a)
}

// String returns the attribute as string, or "" if it is missing or not a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns a numeric attribute as int. JSON numbers decode to float64.
func (a Attributes) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	c := make(Attributes, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
