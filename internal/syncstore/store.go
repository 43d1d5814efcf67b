// Package syncstore holds the offline-first entity stores. Each store keeps
// an ordered in-memory cache of records tagged with a sync status, mutates
// remote-first with a local fallback, and flushes its snapshot to device
// storage after every change.
package syncstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gaspos/client/internal/devicestore"
	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/normalize"
	"gaspos/client/internal/xid"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidMode = errors.New("invalid mode")
	errMissingID   = errors.New("server response has no id")
)

type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOnline:
		return ModeOnline, nil
	case ModeOffline:
		return ModeOffline, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Remote is the slice of the gateway a store talks to.
type Remote[T any, U any] interface {
	Create(ctx context.Context, payload T) (T, error)
	Update(ctx context.Context, id string, patch U) (T, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
	ListByScope(ctx context.Context, scopeID string) ([]T, error)
}

type Patch[T any] interface {
	Apply(*T)
}

// Record ties an entity value type to its pointer methods.
type Record[T any] interface {
	*T
	domain.Entity
}

type State[T any] struct {
	Records    []T
	IsLoading  bool
	IsFetching bool
	// Error is the most recent failure. It stays until ClearError or Clear.
	Error      string
}

type Options struct {
	Device devicestore.Store
	Logger *zap.Logger
}

// SyncReport summarizes one SyncOffline pass.
type SyncReport struct {
	Attempted int
	Synced    int
	Failed    []string
}

type snapshot[T any] struct {
	Records []T `json:"records"`
}

type Store[T any, U Patch[T], P Record[T]] struct {
	kind       string
	storageKey string
	remote     Remote[T, U]
	device     devicestore.Store
	logger     *zap.Logger
	locks      *keyedMutex
	// scrub drops fields that must not stay on the device once a record is
	// server-backed.
	scrub func(*T)

	mu       sync.RWMutex
	records  []T
	loading  int
	fetching int
	lastErr  string
	subs     map[int]func()
	nextSub  int

	persistMu sync.Mutex
}

func New[T any, U Patch[T], P Record[T]](kind string, remote Remote[T, U], opts Options) *Store[T, U, P] {
	return &Store[T, U, P]{
		kind:       kind,
		storageKey: kind + "-storage",
		remote:     remote,
		device:     opts.Device,
		logger:     logger.OrNop(opts.Logger).Named(kind + "-store"),
		locks:      newKeyedMutex(),
		scrub:      func(*T) {},
		subs:       make(map[int]func()),
	}
}

func meta[T any, P Record[T]](r *T) *domain.Base {
	return P(r).Meta()
}

func (s *Store[T, U, P]) StorageKey() string { return s.storageKey }

// State returns a copy of the current store state.
func (s *Store[T, U, P]) State() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State[T]{
		Records:    append([]T(nil), s.records...),
		IsLoading:  s.loading > 0,
		IsFetching: s.fetching > 0,
		Error:      s.lastErr,
	}
}

func (s *Store[T, U, P]) Records() []T {
	return s.State().Records
}

// Subscribe registers fn to run after every cache change.
func (s *Store[T, U, P]) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Add creates a record. In online mode the server is tried first; if it
// fails the record is still cached, tagged offline, and the failure is kept
// in State().Error. The returned record is the one now in the cache.
func (s *Store[T, U, P]) Add(ctx context.Context, data T, mode Mode) (T, error) {
	if mode != ModeOnline && mode != ModeOffline {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.begin(&s.loading)
	defer s.end(&s.loading)

	*meta[T, P](&data) = domain.Base{}

	if mode == ModeOnline {
		created, err := s.remote.Create(ctx, data)
		if err == nil && meta[T, P](&created).ID == "" {
			err = errMissingID
		}
		if err == nil {
			s.markSynced(&created)
			s.upsert(ctx, created)
			return created, nil
		}
		s.fail(err)
		s.logger.Warn("remote create failed, keeping record offline", zap.Error(err))
	}

	local := data
	*meta[T, P](&local) = domain.Base{
		ID:         xid.New(s.kind),
		CreatedAt:  domain.Now(),
		SyncStatus: domain.SyncOffline,
	}
	s.upsert(ctx, local)
	return local, nil
}

// Update applies patch to the record with id. Server-backed records are
// updated remotely first; when that fails, or the record is offline, the
// patch is applied locally and the sync status is left as it was.
func (s *Store[T, U, P]) Update(ctx context.Context, id string, patch U) (T, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	s.begin(&s.loading)
	defer s.end(&s.loading)

	current, ok := s.Get(id)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
	}

	if meta[T, P](&current).SyncStatus.ServerBacked() {
		updated, err := s.remote.Update(ctx, id, patch)
		if err == nil {
			m := meta[T, P](&updated)
			if m.ID == "" {
				m.ID = id
			}
			if m.CreatedAt == "" {
				m.CreatedAt = meta[T, P](&current).CreatedAt
			}
			s.markSynced(&updated)
			if s.replace(ctx, id, updated) {
				return updated, nil
			}
			var zero T
			return zero, fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
		}
		s.fail(err)
		s.logger.Warn("remote update failed, applying locally", zap.String("id", id), zap.Error(err))
	}

	var result T
	found := s.mutate(ctx, id, func(r *T) {
		patch.Apply(r)
		result = *r
	})
	if !found {
		var zero T
		return zero, fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
	}
	return result, nil
}

// Delete removes the record with id. Server-backed records are deleted
// remotely first; the local copy is removed whether or not that succeeds.
func (s *Store[T, U, P]) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	s.begin(&s.loading)
	defer s.end(&s.loading)

	current, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", s.kind, id, ErrNotFound)
	}

	if meta[T, P](&current).SyncStatus.ServerBacked() {
		if err := s.remote.Delete(ctx, id); err != nil {
			s.fail(err)
			s.logger.Warn("remote delete failed, removing locally", zap.String("id", id), zap.Error(err))
		}
	}
	s.remove(ctx, id)
	return nil
}

func (s *Store[T, U, P]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.records[i], true
	}
	var zero T
	return zero, false
}

// GetByName tries an exact label match first, then a case-insensitive one.
func (s *Store[T, U, P]) GetByName(name string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		if P(&s.records[i]).Label() == name {
			return s.records[i], true
		}
	}
	for i := range s.records {
		if strings.EqualFold(P(&s.records[i]).Label(), name) {
			return s.records[i], true
		}
	}
	var zero T
	return zero, false
}

// GetByScope returns the records whose foreign key equals scopeID.
func (s *Store[T, U, P]) GetByScope(scopeID string) []T {
	return s.Filter(func(r *T) bool { return P(r).ScopeID() == scopeID })
}

func (s *Store[T, U, P]) Filter(keep func(*T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0)
	for i := range s.records {
		if keep(&s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	return out
}

// FetchAll replaces the whole cache with the server listing. Records that
// only exist locally are dropped; use FetchByScope to keep them. On failure
// the cache is left untouched.
func (s *Store[T, U, P]) FetchAll(ctx context.Context) error {
	s.begin(&s.fetching)
	defer s.end(&s.fetching)

	list, err := s.remote.List(ctx)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("fetch %s: %w", s.kind, err)
	}
	fetched := s.prepareFetched(list)

	s.mu.Lock()
	s.records = fetched
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// FetchByScope loads the server records for scopeID and merges them with
// the cache: fetched records win, cached records whose id was not fetched
// are kept after them.
func (s *Store[T, U, P]) FetchByScope(ctx context.Context, scopeID string) error {
	s.begin(&s.fetching)
	defer s.end(&s.fetching)

	list, err := s.remote.ListByScope(ctx, scopeID)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("fetch %s for %s: %w", s.kind, scopeID, err)
	}
	fetched := s.prepareFetched(list)
	seen := make(map[string]struct{}, len(fetched))
	for i := range fetched {
		seen[meta[T, P](&fetched[i]).ID] = struct{}{}
	}

	s.mu.Lock()
	merged := fetched
	for i := range s.records {
		if _, dup := seen[meta[T, P](&s.records[i]).ID]; !dup {
			merged = append(merged, s.records[i])
		}
	}
	s.records = merged
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// Refresh reloads the full server listing like FetchAll but keeps records
// that are still waiting for SyncOffline. Server-backed records missing from
// the listing are dropped.
func (s *Store[T, U, P]) Refresh(ctx context.Context) error {
	s.begin(&s.fetching)
	defer s.end(&s.fetching)

	list, err := s.remote.List(ctx)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("refresh %s: %w", s.kind, err)
	}
	fetched := s.prepareFetched(list)

	s.mu.Lock()
	for i := range s.records {
		if meta[T, P](&s.records[i]).SyncStatus == domain.SyncOffline {
			fetched = append(fetched, s.records[i])
		}
	}
	s.records = fetched
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

// SyncOffline pushes every offline record to the server, one at a time.
// A failed record stays offline with its local id; the pass continues.
func (s *Store[T, U, P]) SyncOffline(ctx context.Context) SyncReport {
	s.begin(&s.loading)
	defer s.end(&s.loading)

	var report SyncReport
	for _, id := range s.offlineIDs() {
		if ctx.Err() != nil {
			break
		}
		report.Attempted++
		if s.syncOne(ctx, id) {
			report.Synced++
		} else {
			report.Failed = append(report.Failed, id)
		}
	}
	if len(report.Failed) > 0 {
		s.logger.Warn("offline sync incomplete",
			zap.Int("synced", report.Synced), zap.Strings("failed", report.Failed))
	}
	return report
}

func (s *Store[T, U, P]) syncOne(ctx context.Context, localID string) bool {
	unlock := s.locks.Lock(localID)
	defer unlock()

	current, ok := s.Get(localID)
	if !ok || meta[T, P](&current).SyncStatus != domain.SyncOffline {
		// Removed or synced by someone else while we waited.
		return ok
	}

	payload := current
	*meta[T, P](&payload) = domain.Base{}
	created, err := s.remote.Create(ctx, payload)
	if err == nil && meta[T, P](&created).ID == "" {
		err = errMissingID
	}
	if err != nil {
		s.logger.Warn("offline record not synced", zap.String("id", localID), zap.Error(err))
		return false
	}
	s.markSynced(&created)
	return s.replace(ctx, localID, created)
}

func (s *Store[T, U, P]) offlineIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for i := range s.records {
		m := meta[T, P](&s.records[i])
		if m.SyncStatus == domain.SyncOffline {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// PendingCount is the number of records waiting for SyncOffline.
func (s *Store[T, U, P]) PendingCount() int {
	return len(s.offlineIDs())
}

// Rehydrate restores the cache from device storage. Persisted records may
// predate the current payload shape, so each one is normalized here.
func (s *Store[T, U, P]) Rehydrate(ctx context.Context) error {
	if s.device == nil {
		return nil
	}
	raw, ok, err := s.device.Get(ctx, s.storageKey)
	if err != nil {
		return fmt.Errorf("rehydrate %s: %w", s.kind, err)
	}
	if !ok {
		return nil
	}

	var snap snapshot[json.RawMessage]
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("rehydrate %s: %w", s.kind, err)
	}

	records := make([]T, 0, len(snap.Records))
	seen := make(map[string]struct{}, len(snap.Records))
	for _, item := range snap.Records {
		rec, err := normalize.Decode[T](item)
		if err != nil {
			s.logger.Warn("dropping unreadable cached record", zap.Error(err))
			continue
		}
		id := meta[T, P](&rec).ID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		records = append(records, rec)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.notify()
	return nil
}

// Clear drops the cache and its persisted snapshot, e.g. on logout.
func (s *Store[T, U, P]) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.records = nil
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
	if s.device == nil {
		return nil
	}
	return s.device.Delete(ctx, s.storageKey)
}

// ClearSynced drops every server-backed record and keeps the ones still
// waiting for SyncOffline, so a logout never loses unsynced work. The
// snapshot is deleted when nothing is left to keep.
func (s *Store[T, U, P]) ClearSynced(ctx context.Context) error {
	s.mu.Lock()
	var pending []T
	for i := range s.records {
		if meta[T, P](&s.records[i]).SyncStatus == domain.SyncOffline {
			pending = append(pending, s.records[i])
		}
	}
	s.records = pending
	s.lastErr = ""
	s.mu.Unlock()
	if len(pending) > 0 {
		s.logger.Info("keeping unsynced records across logout", zap.Int("pending", len(pending)))
		s.changed(ctx)
		return nil
	}
	s.notify()
	if s.device == nil {
		return nil
	}
	return s.device.Delete(ctx, s.storageKey)
}

// ClearError dismisses the last recorded failure.
func (s *Store[T, U, P]) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
	s.notify()
}

func (s *Store[T, U, P]) markSynced(r *T) {
	meta[T, P](r).SyncStatus = domain.SyncSynced
	s.scrub(r)
}

func (s *Store[T, U, P]) prepareFetched(list []T) []T {
	out := make([]T, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, rec := range list {
		id := meta[T, P](&rec).ID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s.markSynced(&rec)
		out = append(out, rec)
	}
	return out
}

func (s *Store[T, U, P]) indexLocked(id string) int {
	for i := range s.records {
		if meta[T, P](&s.records[i]).ID == id {
			return i
		}
	}
	return -1
}

func (s *Store[T, U, P]) upsert(ctx context.Context, rec T) {
	id := meta[T, P](&rec).ID
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.records[i] = rec
	} else {
		s.records = append(s.records, rec)
	}
	s.mu.Unlock()
	s.changed(ctx)
}

// replace swaps the record stored under id for rec, keeping its position.
func (s *Store[T, U, P]) replace(ctx context.Context, id string, rec T) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	newID := meta[T, P](&rec).ID
	if newID != id {
		// Drop a copy of the server record that a fetch may already have added.
		if j := s.indexLocked(newID); j >= 0 {
			s.records = append(s.records[:j], s.records[j+1:]...)
			if j < i {
				i--
			}
		}
	}
	s.records[i] = rec
	s.mu.Unlock()
	s.changed(ctx)
	return true
}

func (s *Store[T, U, P]) mutate(ctx context.Context, id string, fn func(*T)) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	fn(&s.records[i])
	s.mu.Unlock()
	s.changed(ctx)
	return true
}

func (s *Store[T, U, P]) remove(ctx context.Context, id string) {
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.records = append(s.records[:i:i], s.records[i+1:]...)
	}
	s.mu.Unlock()
	s.changed(ctx)
}

func (s *Store[T, U, P]) begin(counter *int) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

func (s *Store[T, U, P]) end(counter *int) {
	s.mu.Lock()
	*counter--
	s.mu.Unlock()
	s.notify()
}

func (s *Store[T, U, P]) fail(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Store[T, U, P]) changed(ctx context.Context) {
	s.notify()
	s.persist(ctx)
}

func (s *Store[T, U, P]) notify() {
	s.mu.RLock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

// persist flushes the current snapshot. It is best-effort: failures are
// logged and the in-memory cache stays authoritative.
func (s *Store[T, U, P]) persist(ctx context.Context) {
	if s.device == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	payload, err := json.Marshal(snapshot[T]{Records: s.Records()})
	if err != nil {
		s.logger.Error("encode snapshot", zap.Error(err))
		return
	}
	if err := s.device.Set(context.WithoutCancel(ctx), s.storageKey, payload); err != nil {
		s.logger.Warn("persist snapshot", zap.Error(err))
	}
}
