package syncstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var errOffline = errors.New("dial tcp: connection refused")

// fakeRemote records calls and answers them from hooks. Unset hooks act as a
// healthy server that assigns sequential ids.
type fakeRemote[T any, U Patch[T], P Record[T]] struct {
	mu      sync.Mutex
	nextID  int
	creates []T
	updates []string
	deletes []string

	createErr func(call int, payload T) error
	updateFn  func(id string, patch U) (T, error)
	deleteErr error
	list      []T
	listErr   error
	scoped    map[string][]T
}

func (f *fakeRemote[T, U, P]) Create(_ context.Context, payload T) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, payload)
	if f.createErr != nil {
		if err := f.createErr(len(f.creates), payload); err != nil {
			var zero T
			return zero, err
		}
	}
	f.nextID++
	created := payload
	m := P(&created).Meta()
	m.ID = strconv.Itoa(100 + f.nextID)
	m.CreatedAt = "2024-05-01T10:00:00Z"
	return created, nil
}

func (f *fakeRemote[T, U, P]) Update(_ context.Context, id string, patch U) (T, error) {
	f.mu.Lock()
	f.updates = append(f.updates, id)
	fn := f.updateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id, patch)
	}
	var zero T
	return zero, errOffline
}

func (f *fakeRemote[T, U, P]) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.deleteErr
}

func (f *fakeRemote[T, U, P]) List(context.Context) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]T(nil), f.list...), f.listErr
}

func (f *fakeRemote[T, U, P]) ListByScope(_ context.Context, scopeID string) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]T(nil), f.scoped[scopeID]...), nil
}

func (f *fakeRemote[T, U, P]) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}
