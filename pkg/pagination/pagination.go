// Package pagination implements keyset paging over (created_at, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformedCursor = errors.New("malformed cursor")

// Params are the paging inputs accepted from clients.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the (created_at, id) of the last row on the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Page is one page of results; NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Direction is the scan order of a keyset query.
type Direction bool

const (
	NewestFirst Direction = false
	OldestFirst Direction = true
)

// NormalizeLimit clamps limit into [1, MaxLimit], using DefaultLimit for zero or less.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer fetches one extra row so BuildPage can tell whether more exist.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Keyset is a GORM scope that resumes after cursor in dir order and fetches
// LimitWithBuffer(limit) rows. A nil cursor starts from the beginning.
func Keyset(cursor *Cursor, limit int, dir Direction) func(*gorm.DB) *gorm.DB {
	cmp, order := "<", "DESC"
	if dir == OldestFirst {
		cmp, order = ">", "ASC"
	}
	return func(db *gorm.DB) *gorm.DB {
		if cursor != nil {
			db = db.Where(
				fmt.Sprintf("(created_at %[1]s ?) OR (created_at = ? AND id %[1]s ?)", cmp),
				cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
			)
		}
		return db.
			Order("created_at " + order).
			Order("id " + order).
			Limit(LimitWithBuffer(limit))
	}
}

// BuildPage drops the buffered row and points NextCursor at the last kept row.
func BuildPage[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		if rows == nil {
			rows = []T{}
		}
		return Page[T]{Items: rows}
	}
	items := rows[:limit]
	return Page[T]{Items: items, NextCursor: EncodeCursor(key(items[limit-1]))}
}

// EncodeCursor renders an opaque, URL-safe token.
func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor reverses EncodeCursor. A blank value means first page and
// yields nil, nil.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, errMalformedCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errMalformedCursor, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformedCursor, err)
	}
	return &Cursor{CreatedAt: createdAt.UTC(), ID: parsedID}, nil
}
