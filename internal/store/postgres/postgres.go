package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gaspos/client/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	body JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_kind_idx ON documents (kind, id);
`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, kind string, body json.RawMessage) (store.Document, error) {
	doc := store.Document{Kind: kind}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (kind, body)
		VALUES ($1, $2::jsonb)
		RETURNING id, body, created_at
	`, kind, string(body)).Scan(&doc.ID, (*[]byte)(&doc.Body), &doc.CreatedAt)
	if err != nil {
		return store.Document{}, mapError(err)
	}
	return doc, nil
}

func (s *Store) Replace(ctx context.Context, kind string, id int64, body json.RawMessage) (store.Document, error) {
	doc := store.Document{ID: id, Kind: kind}
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET body = $3::jsonb
		WHERE kind = $1 AND id = $2
		RETURNING body, created_at
	`, kind, id, string(body)).Scan((*[]byte)(&doc.Body), &doc.CreatedAt)
	if err != nil {
		return store.Document{}, mapError(err)
	}
	return doc, nil
}

func (s *Store) Delete(ctx context.Context, kind string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWhere(ctx context.Context, kind string, filters ...store.Filter) (int, error) {
	where, args := whereClause(kind, filters)
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE `+where, args...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) Get(ctx context.Context, kind string, id int64) (store.Document, error) {
	doc := store.Document{ID: id, Kind: kind}
	err := s.db.QueryRowContext(ctx, `
		SELECT body, created_at
		FROM documents
		WHERE kind = $1 AND id = $2
	`, kind, id).Scan((*[]byte)(&doc.Body), &doc.CreatedAt)
	if err != nil {
		return store.Document{}, mapError(err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, kind string, filters ...store.Filter) ([]store.Document, error) {
	where, args := whereClause(kind, filters)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body, created_at
		FROM documents
		WHERE `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	docs := make([]store.Document, 0, 64)
	for rows.Next() {
		doc := store.Document{Kind: kind}
		if err := rows.Scan(&doc.ID, (*[]byte)(&doc.Body), &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// whereClause matches filters with body->>field, so values compare as the
// text PostgreSQL renders for them.
func whereClause(kind string, filters []store.Filter) (string, []any) {
	clauses := []string{"kind = $1"}
	args := []any{kind}
	for _, f := range filters {
		args = append(args, f.Field, f.Value)
		clauses = append(clauses, fmt.Sprintf("body ->> $%d = $%d", len(args)-1, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func mapError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case isInvalidJSON(err):
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isInvalidJSON(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}
