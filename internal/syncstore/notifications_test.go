package syncstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
)

type fakeNotificationRemote struct {
	mu    sync.Mutex
	list  []domain.Notification
	count int
	err   error
	calls []string
}

func (f *fakeNotificationRemote) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeNotificationRemote) List(context.Context) ([]domain.Notification, error) {
	if err := f.call("list"); err != nil {
		return nil, err
	}
	return append([]domain.Notification(nil), f.list...), nil
}

func (f *fakeNotificationRemote) UnreadCount(context.Context) (int, error) {
	return f.count, f.call("count")
}

func (f *fakeNotificationRemote) MarkRead(_ context.Context, id string) error {
	return f.call("read " + id)
}

func (f *fakeNotificationRemote) MarkAllRead(context.Context) error { return f.call("read-all") }

func (f *fakeNotificationRemote) Delete(_ context.Context, id string) error {
	return f.call("delete " + id)
}

func (f *fakeNotificationRemote) DeleteAll(context.Context) error { return f.call("delete-all") }

func seededNotifications(t *testing.T, remote *fakeNotificationRemote) *Notifications {
	t.Helper()
	remote.list = []domain.Notification{
		{ID: "1", Title: "Penjualan baru"},
		{ID: "2", Title: "Penjualan baru"},
		{ID: "3", Title: "Penjualan baru"},
		{ID: "4", Title: "Stok", Read: true},
	}
	store := NewNotifications(remote, Options{Device: devicestore.NewMemory()})
	require.NoError(t, store.FetchNotifications(context.Background()))
	return store
}

func TestUnreadCountDeltas(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{}
	store := seededNotifications(t, remote)
	require.Equal(t, 3, store.UnreadCount())

	store.MarkAsRead(ctx, "1")
	assert.Equal(t, 2, store.UnreadCount())

	store.MarkAsRead(ctx, "1")
	store.MarkAsRead(ctx, "4")
	assert.Equal(t, 2, store.UnreadCount(), "already read notifications do not move the counter")

	store.MarkAllAsRead(ctx)
	assert.Equal(t, 0, store.UnreadCount())
	for _, n := range store.State().Notifications {
		assert.True(t, n.Read)
	}
}

func TestMarkAllAsReadZeroesPolledCount(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{count: 42}
	store := NewNotifications(remote, Options{})

	require.NoError(t, store.PollUnreadCount(ctx))
	assert.Equal(t, 42, store.UnreadCount())

	store.MarkAllAsRead(ctx)
	assert.Equal(t, 0, store.UnreadCount())
}

func TestNotificationMutationsApplyDespiteRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{}
	store := seededNotifications(t, remote)
	remote.err = errOffline

	store.Delete(ctx, "2")
	assert.Equal(t, 2, store.UnreadCount())
	assert.Len(t, store.State().Notifications, 3)
	assert.NotEmpty(t, store.State().Error)

	store.MarkAsRead(ctx, "3")
	assert.Equal(t, 1, store.UnreadCount())

	store.ClearAll(ctx)
	assert.Equal(t, 0, store.UnreadCount())
	assert.Empty(t, store.State().Notifications)
	assert.Contains(t, remote.calls, "delete-all")
}

func TestFetchKeepsPolledCount(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{count: 5}
	store := NewNotifications(remote, Options{})
	require.NoError(t, store.PollUnreadCount(ctx))

	remote.list = []domain.Notification{{ID: "1"}, {ID: "2"}, {ID: "3", Read: true}}
	require.NoError(t, store.FetchNotifications(ctx))

	assert.Len(t, store.State().Notifications, 3)
	assert.Equal(t, 5, store.UnreadCount(), "the polled counter stays authoritative")
}

func TestPollFailureKeepsCount(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{count: 5}
	store := NewNotifications(remote, Options{})
	require.NoError(t, store.PollUnreadCount(ctx))

	remote.err = errOffline
	require.Error(t, store.PollUnreadCount(ctx))
	assert.Equal(t, 5, store.UnreadCount())
}

func TestUnreadCountFallsBackToList(t *testing.T) {
	ctx := context.Background()
	store := NewNotifications(&fakeNotificationRemote{}, Options{})
	assert.Equal(t, 0, store.UnreadCount())

	store.AddNotification(ctx, domain.Notification{Title: "a"})
	store.AddNotification(ctx, domain.Notification{Title: "b", Read: true})
	assert.Equal(t, 1, store.UnreadCount())
}

func TestAddNotificationIsLocal(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{count: 1}
	store := NewNotifications(remote, Options{})
	require.NoError(t, store.PollUnreadCount(ctx))

	added := store.AddNotification(ctx, domain.Notification{Title: "Penjualan baru", SaleID: "9"})
	assert.Regexp(t, `^notification_\d+_[0-9a-f]{10}$`, added.ID)
	assert.NotEmpty(t, added.CreatedAt)
	assert.Equal(t, 2, store.UnreadCount())

	store.AddNotification(ctx, added)
	assert.Len(t, store.State().Notifications, 1, "duplicate ids are ignored")

	store.MarkAsRead(ctx, added.ID)
	assert.Equal(t, 1, store.UnreadCount())
	assert.Equal(t, []string{"count"}, remote.calls, "locally minted ids never reach the server")
}

func TestNotificationsPersistAndRehydrate(t *testing.T) {
	ctx := context.Background()
	device := devicestore.NewMemory()
	remote := &fakeNotificationRemote{count: 7}
	store := NewNotifications(remote, Options{Device: device})
	require.NoError(t, store.PollUnreadCount(ctx))
	store.AddNotification(ctx, domain.Notification{ID: "10", Title: "x"})

	restored := NewNotifications(remote, Options{Device: device})
	require.NoError(t, restored.Rehydrate(ctx))
	assert.Equal(t, 8, restored.UnreadCount())
	require.Len(t, restored.State().Notifications, 1)

	require.NoError(t, restored.Clear(ctx))
	_, ok, err := device.Get(ctx, "notification-storage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRehydrateLegacyNotifications(t *testing.T) {
	ctx := context.Background()
	device := devicestore.NewMemory()
	require.NoError(t, device.Set(ctx, "notification-storage", []byte(
		`{"notifications":[{"ID": 3, "Title": "t", "Read": 1, "created_at": "2024-05-01 10:20:30"},{"ID":4,"Read":"false"}]}`)))

	store := NewNotifications(&fakeNotificationRemote{}, Options{Device: device})
	require.NoError(t, store.Rehydrate(ctx))

	items := store.State().Notifications
	require.Len(t, items, 2)
	assert.Equal(t, "3", items[0].ID)
	assert.Equal(t, "2024-05-01T10:20:30Z", items[0].CreatedAt)
	assert.False(t, items[1].Read)
	assert.Equal(t, 1, store.UnreadCount(), "missing counter falls back to the list")
}

func TestNotificationErrorKeptUntilDismissed(t *testing.T) {
	ctx := context.Background()
	remote := &fakeNotificationRemote{err: errOffline}
	store := NewNotifications(remote, Options{})

	require.Error(t, store.PollUnreadCount(ctx))
	remote.mu.Lock()
	remote.err = nil
	remote.mu.Unlock()
	require.NoError(t, store.FetchNotifications(ctx))
	assert.NotEmpty(t, store.State().Error)

	store.ClearError()
	assert.Empty(t, store.State().Error)
}
