package syncstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/normalize"
	"gaspos/client/internal/xid"
)

const notificationKind = "notification"

type NotificationRemote interface {
	List(ctx context.Context) ([]domain.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

type NotificationState struct {
	Notifications []domain.Notification
	UnreadCount   int
	IsLoading     bool
	Error         string
}

type notificationSnapshot struct {
	Notifications []json.RawMessage `json:"notifications"`
	UnreadCount   *int              `json:"unreadCount"`
}

// Notifications keeps the notification list plus a separately polled unread
// counter. The counter is authoritative; mutations move it by exact deltas so
// a concurrent poll is never overwritten by a recount.
type Notifications struct {
	remote     NotificationRemote
	device     devicestore.Store
	logger     *zap.Logger
	storageKey string

	mu      sync.RWMutex
	items   []domain.Notification
	unread  int // -1 until the first poll, fetch or rehydrate
	loading int
	lastErr string
	subs    map[int]func()
	nextSub int

	persistMu sync.Mutex
}

func NewNotifications(remote NotificationRemote, opts Options) *Notifications {
	return &Notifications{
		remote:     remote,
		device:     opts.Device,
		logger:     logger.OrNop(opts.Logger).Named("notification-store"),
		storageKey: notificationKind + "-storage",
		unread:     -1,
		subs:       make(map[int]func()),
	}
}

func (n *Notifications) StorageKey() string { return n.storageKey }

func (n *Notifications) State() NotificationState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NotificationState{
		Notifications: append([]domain.Notification(nil), n.items...),
		UnreadCount:   n.unreadLocked(),
		IsLoading:     n.loading > 0,
		Error:         n.lastErr,
	}
}

// UnreadCount returns the cached counter, falling back to counting the list
// while the counter has not been initialized.
func (n *Notifications) UnreadCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.unreadLocked()
}

func (n *Notifications) unreadLocked() int {
	if n.unread >= 0 {
		return n.unread
	}
	return countUnread(n.items)
}

func countUnread(items []domain.Notification) int {
	count := 0
	for _, item := range items {
		if !item.Read {
			count++
		}
	}
	return count
}

func (n *Notifications) Subscribe(fn func()) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// FetchNotifications replaces the list with the server listing. The unread
// counter is left to PollUnreadCount and the mutation deltas; until it has
// been set, UnreadCount counts the fetched list. On failure the cached state
// is kept.
func (n *Notifications) FetchNotifications(ctx context.Context) error {
	n.begin()
	defer n.end()

	list, err := n.remote.List(ctx)
	if err != nil {
		n.fail(err)
		return fmt.Errorf("fetch notifications: %w", err)
	}
	n.mu.Lock()
	n.items = list
	n.mu.Unlock()
	n.changed(ctx)
	return nil
}

// PollUnreadCount refreshes only the counter.
func (n *Notifications) PollUnreadCount(ctx context.Context) error {
	count, err := n.remote.UnreadCount(ctx)
	if err != nil {
		n.fail(err)
		return fmt.Errorf("poll unread count: %w", err)
	}
	if count < 0 {
		count = 0
	}
	n.mu.Lock()
	n.unread = count
	n.mu.Unlock()
	n.changed(ctx)
	return nil
}

// AddNotification inserts a locally received notification at the top of the
// list without a server round trip. Duplicate ids are ignored.
func (n *Notifications) AddNotification(ctx context.Context, item domain.Notification) domain.Notification {
	if item.ID == "" {
		item.ID = xid.New(notificationKind)
	}
	if item.CreatedAt == "" {
		item.CreatedAt = domain.Now()
	}

	n.mu.Lock()
	if n.indexLocked(item.ID) >= 0 {
		n.mu.Unlock()
		return item
	}
	n.items = append([]domain.Notification{item}, n.items...)
	if !item.Read && n.unread >= 0 {
		n.unread++
	}
	n.mu.Unlock()
	n.changed(ctx)
	return item
}

// MarkAsRead marks id read on the server and locally. The local change is
// applied even when the server call fails.
func (n *Notifications) MarkAsRead(ctx context.Context, id string) {
	n.begin()
	defer n.end()

	n.callRemote(ctx, id, "mark read", n.remote.MarkRead)

	n.mu.Lock()
	if i := n.indexLocked(id); i >= 0 && !n.items[i].Read {
		n.items[i].Read = true
		n.adjustLocked(-1)
	}
	n.mu.Unlock()
	n.changed(ctx)
}

func (n *Notifications) MarkAllAsRead(ctx context.Context) {
	n.begin()
	defer n.end()

	if err := n.remote.MarkAllRead(ctx); err != nil {
		n.fail(err)
		n.logger.Warn("remote mark all read failed", zap.Error(err))
	}

	n.mu.Lock()
	for i := range n.items {
		n.items[i].Read = true
	}
	n.unread = 0
	n.mu.Unlock()
	n.changed(ctx)
}

func (n *Notifications) Delete(ctx context.Context, id string) {
	n.begin()
	defer n.end()

	n.callRemote(ctx, id, "delete", n.remote.Delete)

	n.mu.Lock()
	if i := n.indexLocked(id); i >= 0 {
		if !n.items[i].Read {
			n.adjustLocked(-1)
		}
		n.items = append(n.items[:i:i], n.items[i+1:]...)
	}
	n.mu.Unlock()
	n.changed(ctx)
}

func (n *Notifications) ClearAll(ctx context.Context) {
	n.begin()
	defer n.end()

	if err := n.remote.DeleteAll(ctx); err != nil {
		n.fail(err)
		n.logger.Warn("remote clear failed", zap.Error(err))
	}

	n.mu.Lock()
	n.items = nil
	n.unread = 0
	n.mu.Unlock()
	n.changed(ctx)
}

// callRemote skips ids that were minted on this device; the server has
// never seen them.
func (n *Notifications) callRemote(ctx context.Context, id, op string, call func(context.Context, string) error) {
	if xid.IsLocal(notificationKind, id) {
		return
	}
	if err := call(ctx, id); err != nil {
		n.fail(err)
		n.logger.Warn("remote "+op+" failed", zap.String("id", id), zap.Error(err))
	}
}

func (n *Notifications) adjustLocked(delta int) {
	if n.unread < 0 {
		return
	}
	n.unread = max(n.unread+delta, 0)
}

func (n *Notifications) indexLocked(id string) int {
	for i := range n.items {
		if n.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (n *Notifications) Rehydrate(ctx context.Context) error {
	if n.device == nil {
		return nil
	}
	raw, ok, err := n.device.Get(ctx, n.storageKey)
	if err != nil {
		return fmt.Errorf("rehydrate notifications: %w", err)
	}
	if !ok {
		return nil
	}
	var snap notificationSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("rehydrate notifications: %w", err)
	}

	items := make([]domain.Notification, 0, len(snap.Notifications))
	for _, rawItem := range snap.Notifications {
		item, err := normalize.Decode[domain.Notification](rawItem)
		if err != nil || item.ID == "" {
			continue
		}
		items = append(items, item)
	}

	n.mu.Lock()
	n.items = items
	n.unread = -1
	if snap.UnreadCount != nil && *snap.UnreadCount >= 0 {
		n.unread = *snap.UnreadCount
	}
	n.mu.Unlock()
	n.notify()
	return nil
}

func (n *Notifications) Clear(ctx context.Context) error {
	n.mu.Lock()
	n.items = nil
	n.unread = -1
	n.lastErr = ""
	n.mu.Unlock()
	n.notify()
	if n.device == nil {
		return nil
	}
	return n.device.Delete(ctx, n.storageKey)
}

// ClearError dismisses the last recorded failure.
func (n *Notifications) ClearError() {
	n.mu.Lock()
	n.lastErr = ""
	n.mu.Unlock()
	n.notify()
}

func (n *Notifications) begin() {
	n.mu.Lock()
	n.loading++
	n.mu.Unlock()
}

func (n *Notifications) end() {
	n.mu.Lock()
	n.loading--
	n.mu.Unlock()
	n.notify()
}

func (n *Notifications) fail(err error) {
	n.mu.Lock()
	n.lastErr = err.Error()
	n.mu.Unlock()
}

func (n *Notifications) changed(ctx context.Context) {
	n.notify()
	n.persist(ctx)
}

func (n *Notifications) notify() {
	n.mu.RLock()
	subs := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

func (n *Notifications) persist(ctx context.Context) {
	if n.device == nil {
		return
	}
	n.persistMu.Lock()
	defer n.persistMu.Unlock()

	n.mu.RLock()
	unread := n.unread
	payload, err := json.Marshal(struct {
		Notifications []domain.Notification `json:"notifications"`
		UnreadCount   *int                  `json:"unreadCount"`
	}{n.items, &unread})
	n.mu.RUnlock()
	if err != nil {
		n.logger.Error("encode snapshot", zap.Error(err))
		return
	}
	if err := n.device.Set(context.WithoutCancel(ctx), n.storageKey, payload); err != nil {
		n.logger.Warn("persist snapshot", zap.Error(err))
	}
}
