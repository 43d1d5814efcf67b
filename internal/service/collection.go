package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/store"
)

type record[T any] interface {
	*T
	domain.Entity
}

// Collection is the CRUD surface of one entity kind. Ids and creation times
// come from the repository; the stored body never carries them.
type Collection[T any, U interface{ Apply(*T) }, P record[T]] struct {
	repo       store.Repository
	kind       string
	scopeField string

	validate    func(*T) error
	beforeWrite func(ctx context.Context, rec *T, existing *T) error
	afterCreate func(ctx context.Context, rec T)
	onPatch     func(rec *T, patch U)
	// present strips server-only fields from values handed to callers.
	present func(*T)
}

func (c *Collection[T, U, P]) Kind() string { return c.kind }

func (c *Collection[T, U, P]) ScopeField() string { return c.scopeField }

func (c *Collection[T, U, P]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if c.validate != nil {
		if err := c.validate(&rec); err != nil {
			return zero, err
		}
	}
	if c.beforeWrite != nil {
		if err := c.beforeWrite(ctx, &rec, nil); err != nil {
			return zero, err
		}
	}
	body, err := encodeDocument[T, P](rec)
	if err != nil {
		return zero, err
	}
	doc, err := c.repo.Insert(ctx, c.kind, body)
	if err != nil {
		return zero, err
	}
	created, err := decodeDocument[T, P](doc)
	if err != nil {
		return zero, err
	}
	if c.afterCreate != nil {
		c.afterCreate(ctx, created)
	}
	return c.presented(created), nil
}

func (c *Collection[T, U, P]) Update(ctx context.Context, rawID string, patch U) (T, error) {
	var zero T
	id, err := store.ParseID(rawID)
	if err != nil {
		return zero, err
	}
	existing, err := c.get(ctx, id)
	if err != nil {
		return zero, err
	}

	updated := existing
	patch.Apply(&updated)
	if c.onPatch != nil {
		c.onPatch(&updated, patch)
	}
	if c.validate != nil {
		if err := c.validate(&updated); err != nil {
			return zero, err
		}
	}
	if c.beforeWrite != nil {
		if err := c.beforeWrite(ctx, &updated, &existing); err != nil {
			return zero, err
		}
	}
	saved, err := c.replace(ctx, id, updated)
	if err != nil {
		return zero, err
	}
	return c.presented(saved), nil
}

func (c *Collection[T, U, P]) Delete(ctx context.Context, rawID string) error {
	id, err := store.ParseID(rawID)
	if err != nil {
		return err
	}
	return c.repo.Delete(ctx, c.kind, id)
}

func (c *Collection[T, U, P]) Get(ctx context.Context, rawID string) (T, error) {
	id, err := store.ParseID(rawID)
	if err != nil {
		var zero T
		return zero, err
	}
	rec, err := c.get(ctx, id)
	return c.presented(rec), err
}

// List returns every record, or only those whose scope field equals scope.
func (c *Collection[T, U, P]) List(ctx context.Context, scope string) ([]T, error) {
	var filters []store.Filter
	if scope != "" {
		filters = append(filters, store.Filter{Field: c.scopeField, Value: scope})
	}
	docs, err := c.repo.List(ctx, c.kind, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeDocument[T, P](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c.presented(rec))
	}
	return out, nil
}

func (c *Collection[T, U, P]) get(ctx context.Context, id int64) (T, error) {
	doc, err := c.repo.Get(ctx, c.kind, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeDocument[T, P](doc)
}

func (c *Collection[T, U, P]) replace(ctx context.Context, id int64, rec T) (T, error) {
	var zero T
	body, err := encodeDocument[T, P](rec)
	if err != nil {
		return zero, err
	}
	doc, err := c.repo.Replace(ctx, c.kind, id, body)
	if err != nil {
		return zero, err
	}
	return decodeDocument[T, P](doc)
}

func (c *Collection[T, U, P]) presented(rec T) T {
	if c.present != nil {
		c.present(&rec)
	}
	return rec
}

func encodeDocument[T any, P record[T]](rec T) (json.RawMessage, error) {
	*P(&rec).Meta() = domain.Base{}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return body, nil
}

func decodeDocument[T any, P record[T]](doc store.Document) (T, error) {
	var rec T
	if err := json.Unmarshal(doc.Body, &rec); err != nil {
		return rec, fmt.Errorf("decode %s %d: %w", doc.Kind, doc.ID, err)
	}
	*P(&rec).Meta() = domain.Base{
		ID:        strconv.FormatInt(doc.ID, 10),
		CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return rec, nil
}
