// Package memstore is an in-process room store. Many clients may share
// one Room; it behaves like the hosted store: values are JSON
// round-tripped and every Set notifies all watchers with the full
// snapshot.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

// Room holds the metadata of one room.
type Room struct {
	mu       sync.Mutex
	data     map[string]any
	watchers map[int]chan store.Snapshot
	nextID   int
	closed   bool
	failSet  func(patch store.Patch) error
}

// NewRoom creates an empty room.
func NewRoom() *Room {
	return &Room{
		data:     make(map[string]any),
		watchers: make(map[int]chan store.Snapshot),
	}
}

// Client returns a store.Store view of the room.
func (r *Room) Client() store.Store {
	return r
}

// FailWith makes every later Set consult fn first. A non-nil error is
// returned to the caller and nothing is written. A nil fn clears it.
func (r *Room) FailWith(fn func(patch store.Patch) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSet = fn
}

// GetAll implements store.Store.
func (r *Room) GetAll(ctx context.Context) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, store.ErrClosed
	}
	return r.snapshotLocked(), nil
}

// Set implements store.Store.
func (r *Room) Set(ctx context.Context, patch store.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return store.ErrClosed
	}
	if r.failSet != nil {
		if err := r.failSet(patch); err != nil {
			r.mu.Unlock()
			return err
		}
	}

	normalized := make(map[string]any, len(patch))
	for k, v := range patch {
		if k == "" {
			r.mu.Unlock()
			return fmt.Errorf("%w: empty key", store.ErrInvalidKey)
		}
		if v == nil {
			normalized[k] = nil
			continue
		}
		nv, err := store.Normalize(v)
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("normalize %s: %w", k, err)
		}
		normalized[k] = nv
	}
	for k, v := range normalized {
		if v == nil {
			delete(r.data, k)
			continue
		}
		r.data[k] = v
	}

	snap := r.snapshotLocked()
	for _, ch := range r.watchers {
		store.Offer(ch, snap.Clone())
	}
	r.mu.Unlock()

	log.Debug().Int("keys", len(patch)).Msg("memstore: set applied")
	return nil
}

// Watch implements store.Store.
func (r *Room) Watch(ctx context.Context) (<-chan store.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, store.ErrClosed
	}

	id := r.nextID
	r.nextID++
	ch := make(chan store.Snapshot, store.WatchBuffer)
	r.watchers[id] = ch

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if w, ok := r.watchers[id]; ok {
			delete(r.watchers, id)
			close(w)
		}
	}()

	return ch, nil
}

// Close stops the room and closes every watcher.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for id, ch := range r.watchers {
		close(ch)
		delete(r.watchers, id)
	}
	return nil
}

func (r *Room) snapshotLocked() store.Snapshot {
	snap := make(store.Snapshot, len(r.data))
	for k, v := range r.data {
		snap[k] = v
	}
	return snap
}
