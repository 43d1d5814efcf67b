package devicestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "branch-storage")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "branch-storage", []byte(`{"records":[]}`)))
	require.NoError(t, s.Set(ctx, "branch-storage", []byte(`{"records":[{"id":"1"}]}`)))

	val, ok, err := s.Get(ctx, "branch-storage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"records":[{"id":"1"}]}`, string(val))

	require.NoError(t, s.Delete(ctx, "branch-storage"))
	_, ok, err = s.Get(ctx, "branch-storage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)

	require.NoError(t, m.Set(context.Background(), "a", []byte("x")))
	assert.Equal(t, []string{"a"}, m.Keys())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", buf))
	buf[0] = 'z'

	val, _, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(val))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "notification-storage", []byte(`{"unreadCount":2}`)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	val, ok, err := reopened.Get(ctx, "notification-storage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"unreadCount":2}`, string(val))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("GASPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set GASPOS_TEST_REDIS_ADDR to run redis integration test")
	}
	r := NewRedis(addr, "", 0)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(context.Background()))

	exerciseStore(t, r)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "floppy"})
	assert.Error(t, err)

	s, err := Open(context.Background(), Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
}
