package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaspos/client/internal/store"
)

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	depok, err := s.Insert(ctx, store.KindBranches, json.RawMessage(`{"name":"Depok","companyId":"3"}`))
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.KindBranches, json.RawMessage(`{"name":"Bogor","companyId":3}`))
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.KindProducts, json.RawMessage(`{"name":"LPG"}`))
	require.NoError(t, err)

	all, err := s.List(ctx, store.KindBranches)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := s.List(ctx, store.KindBranches, store.Filter{Field: "companyId", Value: "3"})
	require.NoError(t, err)
	assert.Len(t, scoped, 2, "numbers and strings render the same way")

	_, err = s.Replace(ctx, store.KindBranches, depok.ID, json.RawMessage(`{"name":"Depok Baru"}`))
	require.NoError(t, err)
	got, err := s.Get(ctx, store.KindBranches, depok.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Depok Baru"}`, string(got.Body))
	assert.Equal(t, depok.CreatedAt, got.CreatedAt)

	require.NoError(t, s.Delete(ctx, store.KindBranches, depok.ID))
	assert.ErrorIs(t, s.Delete(ctx, store.KindBranches, depok.ID), store.ErrNotFound)
	_, err = s.Get(ctx, store.KindProducts, depok.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "ids are scoped by kind")
}

func TestDeleteWhereAndBoolFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, body := range []string{`{"read":false}`, `{"read":true}`, `{"read":false}`} {
		_, err := s.Insert(ctx, store.KindNotifications, json.RawMessage(body))
		require.NoError(t, err)
	}

	unread, err := s.List(ctx, store.KindNotifications, store.Filter{Field: "read", Value: "false"})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err := s.DeleteWhere(ctx, store.KindNotifications)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInsertRejectsInvalidJSON(t *testing.T) {
	_, err := New().Insert(context.Background(), store.KindSales, json.RawMessage(`{`))
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, err := s.Insert(ctx, store.KindSales, json.RawMessage(`{"quantity":1}`))
	require.NoError(t, err)

	listed, err := s.List(ctx, store.KindSales)
	require.NoError(t, err)
	listed[0].Body[2] = 'X'

	again, err := s.Get(ctx, store.KindSales, doc.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"quantity":1}`, string(again.Body))
}

func TestMatchesMissingField(t *testing.T) {
	assert.False(t, store.Matches(json.RawMessage(`{"a":null}`), []store.Filter{{Field: "a", Value: "null"}}))
	assert.True(t, store.Matches(json.RawMessage(`{}`), nil))
}
