// Package query compiles entity filters into parameterized SQL.
//
// User controlled input never becomes part of the SQL text. Values are wrapped
// in Value, which can only be created by this package and is always sent as a
// bind parameter. Columns are a closed set and attribute names are bound as
// parameters of the jsonb operators as well.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/model"
)

var attributeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// Value is a sanitized query value.
type Value struct {
	v interface{}
}

// Text wraps a string value.
func Text(s string) Value { return Value{v: s} }

// Int wraps an integer value.
func Int(n int) Value { return Value{v: int64(n)} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{v: b} }

// UUID wraps an uuid value.
func UUID(id uuid.UUID) Value { return Value{v: id} }

// Time wraps a timestamp value.
func Time(t time.Time) Value { return Value{v: t} }

// JSON encodes v the same way attributes are encoded on write, so it can be
// compared against jsonb attribute values.
func JSON(v interface{}) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, model.NewValidationError("value not encodable: %v", err)
	}
	return Value{v: string(b)}, nil
}

// Raw returns the wrapped value for binding.
func (v Value) Raw() interface{} {
	return v.v
}

// Column is one of the filterable entity columns.
type Column string

// Filterable and sortable columns.
const (
	ColumnSeq            Column = "seq"
	ColumnID             Column = "id"
	ColumnStixID         Column = "stix_id"
	ColumnType           Column = "entity_type"
	ColumnCreated        Column = "created"
	ColumnModified       Column = "modified"
	ColumnCreatedAt      Column = "created_at"
	ColumnUpdatedAt      Column = "updated_at"
	ColumnCreatedAtMonth Column = "created_at_month"
	ColumnCreatedAtYear  Column = "created_at_year"
	ColumnRevoked        Column = "revoked"
)

var columns = map[Column]bool{
	ColumnSeq:            true,
	ColumnID:             true,
	ColumnStixID:         true,
	ColumnType:           true,
	ColumnCreated:        true,
	ColumnModified:       true,
	ColumnCreatedAt:      true,
	ColumnUpdatedAt:      true,
	ColumnCreatedAtMonth: true,
	ColumnCreatedAtYear:  true,
	ColumnRevoked:        true,
}

// ParseColumn validates a column name coming from a caller.
func ParseColumn(name string) (Column, error) {
	c := Column(name)
	if !columns[c] {
		return "", model.NewValidationError("unknown column %q", name)
	}
	return c, nil
}

// ValidateAttributeName rejects attribute names that are not plain identifiers.
func ValidateAttributeName(name string) error {
	if !attributeNamePattern.MatchString(name) {
		return model.NewValidationError("invalid attribute name %q", name)
	}
	return nil
}

// Builder collects bind parameters while a statement is compiled.
type Builder struct {
	alias string
	args  []interface{}
}

// NewBuilder creates a builder. alias is the table alias prefixed to columns, may be empty.
func NewBuilder(alias string) *Builder {
	return &Builder{alias: alias}
}

// Bind adds v as parameter and returns its placeholder.
func (b *Builder) Bind(v Value) string {
	b.args = append(b.args, v.v)
	return fmt.Sprintf("$%d", len(b.args))
}

// Args returns the bind parameters in placeholder order.
func (b *Builder) Args() []interface{} {
	return b.args
}

func (b *Builder) column(c Column) string {
	if b.alias == "" {
		return string(c)
	}
	return b.alias + "." + string(c)
}

// Condition is a single compiled predicate.
type Condition interface {
	build(b *Builder) (string, error)
}

type columnEq struct {
	column Column
	value  Value
}

// Eq matches rows whose column equals value.
func Eq(column Column, value Value) Condition {
	return columnEq{column: column, value: value}
}

func (c columnEq) build(b *Builder) (string, error) {
	if !columns[c.column] {
		return "", model.NewValidationError("unknown column %q", c.column)
	}
	return b.column(c.column) + " = " + b.Bind(c.value), nil
}

type columnIn struct {
	column Column
	values []Value
}

// In matches rows whose column equals one of values.
func In(column Column, values ...Value) Condition {
	return columnIn{column: column, values: values}
}

func (c columnIn) build(b *Builder) (string, error) {
	if !columns[c.column] {
		return "", model.NewValidationError("unknown column %q", c.column)
	}
	if len(c.values) == 0 {
		return "FALSE", nil
	}
	placeholders := make([]string, 0, len(c.values))
	for _, v := range c.values {
		placeholders = append(placeholders, b.Bind(v))
	}
	return b.column(c.column) + " IN (" + strings.Join(placeholders, ", ") + ")", nil
}

type attributeEq struct {
	name  string
	value interface{}
}

// AttributeEq matches entities whose attribute name equals value exactly.
// value is JSON encoded like on write.
func AttributeEq(name string, value interface{}) Condition {
	return attributeEq{name: name, value: value}
}

func (c attributeEq) build(b *Builder) (string, error) {
	if err := ValidateAttributeName(c.name); err != nil {
		return "", err
	}
	v, err := JSON(c.value)
	if err != nil {
		return "", err
	}
	return b.column("attributes") + " -> " + b.Bind(Text(c.name)) + " = " + b.Bind(v) + "::jsonb", nil
}

type attributeExists struct {
	name string
}

// AttributeExists matches entities that have the attribute set.
func AttributeExists(name string) Condition {
	return attributeExists{name: name}
}

func (c attributeExists) build(b *Builder) (string, error) {
	if err := ValidateAttributeName(c.name); err != nil {
		return "", err
	}
	return "jsonb_exists(" + b.column("attributes") + ", " + b.Bind(Text(c.name)) + ")", nil
}

// OrderBy sorts the result. The zero value sorts by insertion order.
type OrderBy struct {
	Column Column
	Desc   bool
}

// Filter selects entities. The zero value selects everything.
type Filter struct {
	EntityType string
	Conditions []Condition
	OrderBy    OrderBy
}

// Where compiles the filter into a where clause (without the keyword).
func (f Filter) Where(b *Builder) (string, error) {
	parts := []string{}
	if f.EntityType != "" {
		parts = append(parts, b.column(ColumnType)+" = "+b.Bind(Text(f.EntityType)))
	}
	for _, c := range f.Conditions {
		part, err := c.build(b)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	return strings.Join(parts, " AND "), nil
}

// Order compiles the order clause (without the keyword). Insertion order
// is always the final tie breaker so pages are stable.
func (f Filter) Order(b *Builder) (string, error) {
	if f.OrderBy.Column == "" || f.OrderBy.Column == ColumnSeq {
		if f.OrderBy.Desc {
			return b.column(ColumnSeq) + " DESC", nil
		}
		return b.column(ColumnSeq) + " ASC", nil
	}
	if !columns[f.OrderBy.Column] {
		return "", model.NewValidationError("unknown column %q", f.OrderBy.Column)
	}
	direction := " ASC"
	if f.OrderBy.Desc {
		direction = " DESC"
	}
	return b.column(f.OrderBy.Column) + direction + ", " + b.column(ColumnSeq) + " ASC", nil
}
