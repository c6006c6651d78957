package model

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when Pagination.First is not set.
	DefaultPageSize = 50
	// MaxPageSize caps Pagination.First.
	MaxPageSize = 500

	cursorPrefix = "offset:"
)

// Pagination describes a page request. After is the opaque cursor of the
// last element of the previous page.
type Pagination struct {
	First int    `json:"first,omitempty"`
	After string `json:"after,omitempty"`
}

// Limit returns the effective page size.
func (p Pagination) Limit() int {
	if p.First <= 0 {
		return DefaultPageSize
	}
	if p.First > MaxPageSize {
		return MaxPageSize
	}
	return p.First
}

// Offset returns the offset encoded in After, 0 if After is empty.
func (p Pagination) Offset() (int, error) {
	if p.After == "" {
		return 0, nil
	}
	return DecodeCursor(p.After)
}

// EncodeCursor encodes the position of an element as opaque cursor.
// The cursor points after the element, so position 0 encodes offset 1.
func EncodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor decodes a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, NewValidationError("invalid cursor %q", cursor)
	}
	s := string(raw)
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, NewValidationError("invalid cursor %q", cursor)
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(s, cursorPrefix))
	if err != nil || offset < 0 {
		return 0, NewValidationError("invalid cursor %q", cursor)
	}
	return offset, nil
}

// PageInfo describes the position of a page within the full result.
type PageInfo struct {
	StartCursor     string `json:"start_cursor"`
	EndCursor       string `json:"end_cursor"`
	HasNextPage     bool   `json:"has_next_page"`
	HasPreviousPage bool   `json:"has_previous_page"`
	GlobalCount     int    `json:"global_count"`
}

// EntityEdge is an entity together with its cursor.
type EntityEdge struct {
	Cursor string  `json:"cursor"`
	Node   *Entity `json:"node"`
}

// EntityPage is a single page of entities.
type EntityPage struct {
	Edges    []*EntityEdge `json:"edges"`
	PageInfo PageInfo      `json:"page_info"`
}

// Nodes returns the entities of the page in order.
func (p *EntityPage) Nodes() []*Entity {
	nodes := make([]*Entity, 0, len(p.Edges))
	for _, e := range p.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}
