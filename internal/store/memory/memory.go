package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"gaspos/client/internal/store"
)

// Store keeps documents in process memory. It backs the dev server when no
// DATABASE_URL is configured, and the tests.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[string][]store.Document
	now    func() time.Time
}

func New() *Store {
	return &Store{
		docs: make(map[string][]store.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Insert(_ context.Context, kind string, body json.RawMessage) (store.Document, error) {
	if !json.Valid(body) {
		return store.Document{}, store.ErrInvalidDocument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	doc := store.Document{ID: s.nextID, Kind: kind, Body: slices.Clone(body), CreatedAt: s.now()}
	s.docs[kind] = append(s.docs[kind], doc)
	return cloneDoc(doc), nil
}

func (s *Store) Replace(_ context.Context, kind string, id int64, body json.RawMessage) (store.Document, error) {
	if !json.Valid(body) {
		return store.Document{}, store.ErrInvalidDocument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(kind, id)
	if i < 0 {
		return store.Document{}, store.ErrNotFound
	}
	s.docs[kind][i].Body = slices.Clone(body)
	return cloneDoc(s.docs[kind][i]), nil
}

func (s *Store) Delete(_ context.Context, kind string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(kind, id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.docs[kind] = slices.Delete(s.docs[kind], i, i+1)
	return nil
}

func (s *Store) DeleteWhere(_ context.Context, kind string, filters ...store.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.docs[kind])
	s.docs[kind] = slices.DeleteFunc(s.docs[kind], func(doc store.Document) bool {
		return store.Matches(doc.Body, filters)
	})
	return before - len(s.docs[kind]), nil
}

func (s *Store) Get(_ context.Context, kind string, id int64) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(kind, id)
	if i < 0 {
		return store.Document{}, store.ErrNotFound
	}
	return cloneDoc(s.docs[kind][i]), nil
}

func (s *Store) List(_ context.Context, kind string, filters ...store.Filter) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Document, 0, len(s.docs[kind]))
	for _, doc := range s.docs[kind] {
		if store.Matches(doc.Body, filters) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) indexLocked(kind string, id int64) int {
	return slices.IndexFunc(s.docs[kind], func(doc store.Document) bool { return doc.ID == id })
}

func cloneDoc(doc store.Document) store.Document {
	doc.Body = slices.Clone(doc.Body)
	return doc
}
