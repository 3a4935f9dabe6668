package natskv

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"

	"github.com/fichas-one/fichas/go/internal/store"
)

type fakeEntry struct {
	key   string
	value string
	op    jetstream.KeyValueOp
	rev   uint64
}

func (e fakeEntry) Bucket() string                  { return "FICHAS_test" }
func (e fakeEntry) Key() string                     { return e.key }
func (e fakeEntry) Value() []byte                   { return []byte(e.value) }
func (e fakeEntry) Revision() uint64                { return e.rev }
func (e fakeEntry) Created() time.Time              { return time.Time{} }
func (e fakeEntry) Delta() uint64                   { return 0 }
func (e fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

func TestMirror_AppliesPutsAndDeletes(t *testing.T) {
	m := newMirror()
	m.apply(fakeEntry{key: "sheet-a", value: `{"nome":"Aria","vida":4}`, op: jetstream.KeyValuePut})
	m.apply(fakeEntry{key: "roster", value: `"Goblin,7"`, op: jetstream.KeyValuePut})
	m.apply(fakeEntry{key: "sheet-b", value: `{"nome":"Bron"}`, op: jetstream.KeyValuePut})
	m.apply(fakeEntry{key: "sheet-b", op: jetstream.KeyValueDelete})
	m.apply(fakeEntry{key: "log-1-a", value: `not json`, op: jetstream.KeyValuePut})

	assert.Equal(t, store.Snapshot{
		"sheet-a": map[string]any{"nome": "Aria", "vida": float64(4)},
		"roster":  "Goblin,7",
	}, m.snapshot())
}

func TestMirror_SnapshotIsACopy(t *testing.T) {
	m := newMirror()
	m.apply(fakeEntry{key: "roster", value: `""`, op: jetstream.KeyValuePut})
	snap := m.snapshot()
	m.apply(fakeEntry{key: "roster", op: jetstream.KeyValuePurge})

	assert.Contains(t, snap, "roster")
	assert.Empty(t, m.snapshot())
}
