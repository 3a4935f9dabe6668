// Package store defines the contract of the shared room metadata store.
//
// The store has no merge logic: Set replaces the value under each key it
// is given, and every watcher receives the full room snapshot after any
// client's Set resolves, including the writer's own.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// WatchBuffer is the default capacity of watch channels.
const WatchBuffer = 16

// Snapshot is the full key/value state of a room.
type Snapshot map[string]any

// Patch is a partial update. A nil value deletes the key.
type Patch map[string]any

// Store is the shared metadata store of one room.
type Store interface {
	// GetAll returns the current room snapshot.
	GetAll(ctx context.Context) (Snapshot, error)
	// Set writes the keys present in patch, deleting those mapped to nil.
	Set(ctx context.Context, patch Patch) error
	// Watch streams a full snapshot after every change in the room. The
	// channel is closed when ctx is done or the store shuts down.
	Watch(ctx context.Context) (<-chan Snapshot, error)
}

var (
	// ErrClosed is returned by stores that have been shut down.
	ErrClosed = errors.New("store is closed")
	// ErrInvalidKey is returned for keys the backend cannot represent.
	ErrInvalidKey = errors.New("invalid store key")
)

// Normalize round-trips v through JSON so that every backend hands out
// the same shapes (map[string]any, []any, float64, string, bool).
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}

// Clone returns a shallow copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the keys touched by the patch.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// Offer sends snap to ch without blocking. When ch is full the oldest
// pending snapshot is dropped: every snapshot is a full room state, so
// only the newest one matters.
func Offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
