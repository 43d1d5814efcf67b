// Package store persists the dev server's documents. Every entity kind is a
// collection of JSON documents keyed by a numeric id.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const (
	KindBranches      = "branches"
	KindProducts      = "products"
	KindSales         = "sales"
	KindUsers         = "users"
	KindExpenses      = "expenses"
	KindNotifications = "notifications"
)

type Document struct {
	ID        int64
	Kind      string
	Body      json.RawMessage
	CreatedAt time.Time
}

// Filter matches documents whose top-level field renders as Value.
type Filter struct {
	Field string
	Value string
}

type Repository interface {
	Insert(ctx context.Context, kind string, body json.RawMessage) (Document, error)
	Replace(ctx context.Context, kind string, id int64, body json.RawMessage) (Document, error)
	Delete(ctx context.Context, kind string, id int64) error
	DeleteWhere(ctx context.Context, kind string, filters ...Filter) (int, error)
	Get(ctx context.Context, kind string, id int64) (Document, error)
	List(ctx context.Context, kind string, filters ...Filter) ([]Document, error)
	Close() error
}

// Matches reports whether body satisfies every filter, comparing values the
// way PostgreSQL's ->> operator renders them.
func Matches(body json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return false
	}
	for _, f := range filters {
		val, ok := fields[f.Field]
		if !ok || val == nil {
			return false
		}
		if render(val) != f.Value {
			return false
		}
	}
	return true
}

func render(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// ParseID converts a path id into a document id.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: id %q", ErrNotFound, raw)
	}
	return id, nil
}
