package natskv

import (
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

// mirror rebuilds the room from a stream of KeyValue entries.
type mirror struct {
	data map[string]any
}

func newMirror() *mirror {
	return &mirror{data: make(map[string]any)}
}

func (m *mirror) apply(entry jetstream.KeyValueEntry) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(m.data, entry.Key())
		return
	}

	var v any
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		log.Warn().
			Err(err).
			Str("key", entry.Key()).
			Uint64("revision", entry.Revision()).
			Msg("skipping undecodable KeyValue entry")
		return
	}
	if v == nil {
		delete(m.data, entry.Key())
		return
	}
	m.data[entry.Key()] = v
}

func (m *mirror) snapshot() store.Snapshot {
	snap := make(store.Snapshot, len(m.data))
	for k, v := range m.data {
		snap[k] = v
	}
	return snap
}
