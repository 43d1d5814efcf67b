package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"gaspos/client/internal/store"
)

func TestDocumentRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("GASPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GASPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	kind := fmt.Sprintf("it-branches-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = $1`, kind)
	})

	doc, err := s.Insert(ctx, kind, json.RawMessage(`{"name":"Depok","companyId":"3","active":true}`))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Insert(ctx, kind, json.RawMessage(`{"name":"Bogor","companyId":"4","active":false}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	scoped, err := s.List(ctx, kind, store.Filter{Field: "companyId", Value: "3"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != doc.ID {
		t.Fatalf("expected only document %d for company 3, got %+v", doc.ID, scoped)
	}

	inactive, err := s.List(ctx, kind, store.Filter{Field: "active", Value: "false"})
	if err != nil {
		t.Fatalf("list inactive: %v", err)
	}
	if len(inactive) != 1 {
		t.Fatalf("expected 1 inactive document, got %d", len(inactive))
	}

	if _, err := s.Replace(ctx, kind, doc.ID, json.RawMessage(`{"name":"Depok Baru","companyId":"3"}`)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := s.Get(ctx, kind, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(got.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["name"] != "Depok Baru" {
		t.Fatalf("expected replaced name, got %v", body["name"])
	}

	if err := s.Delete(ctx, kind, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, kind, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if n, err := s.DeleteWhere(ctx, kind); err != nil || n != 1 {
		t.Fatalf("delete where: n=%d err=%v", n, err)
	}
}
