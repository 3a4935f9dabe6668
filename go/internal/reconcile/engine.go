// Package reconcile folds full room snapshots into the record cache.
//
// Snapshots are applied in arrival order with no fencing: an older
// snapshot delivered after a newer one can move a field back to its older
// value until the next snapshot arrives.
package reconcile

import (
	"encoding/json"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/cache"
	"github.com/fichas-one/fichas/go/internal/codec"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/store"
)

// LocalState describes the local client's unpersisted edits to its own
// sheet at the time a snapshot is applied.
type LocalState struct {
	// Protected are the own-sheet fields queued or in flight.
	Protected map[string]bool
	// Unpersisted is true while the own sheet has edits the store has not
	// acknowledged. The own sheet is then kept even if the snapshot lacks it.
	Unpersisted bool
}

// Result summarizes what a snapshot changed in the cache.
type Result struct {
	SheetsChanged []string
	SheetsRemoved []string
	RosterChanged bool
	LogsAdded     int
	LogsRemoved   int
	Ignored       int
}

// Changed reports whether anything visible changed.
func (r Result) Changed() bool {
	return len(r.SheetsChanged) > 0 || len(r.SheetsRemoved) > 0 ||
		r.RosterChanged || r.LogsAdded > 0 || r.LogsRemoved > 0
}

// Engine applies snapshots to one cache. It is not safe for concurrent
// use.
type Engine struct {
	cache        *cache.Cache
	ownKey       string
	fingerprints map[string]uint64
}

// New creates an engine for the client owning the sheet under ownKey.
func New(c *cache.Cache, ownKey string) *Engine {
	return &Engine{
		cache:        c,
		ownKey:       ownKey,
		fingerprints: make(map[string]uint64),
	}
}

// OnSnapshot merges snap into the cache.
func (e *Engine) OnSnapshot(snap store.Snapshot, local LocalState) Result {
	var res Result

	sheetKeys := make([]string, 0, len(snap))
	logKeys := make([]string, 0, len(snap))
	rosterRaw, hasRoster := any(nil), false

	for key, raw := range snap {
		switch models.Classify(key) {
		case models.FamilySheet:
			sheetKeys = append(sheetKeys, key)
		case models.FamilyLog:
			logKeys = append(logKeys, key)
		case models.FamilyRoster:
			rosterRaw, hasRoster = raw, true
		default:
			res.Ignored++
		}
	}
	sort.Strings(sheetKeys)

	present := make(map[string]bool, len(sheetKeys))
	for _, key := range sheetKeys {
		present[key] = true
		if e.applySheet(key, snap[key], local) {
			res.SheetsChanged = append(res.SheetsChanged, key)
		}
	}

	for _, key := range e.cache.Keys(models.SheetPrefix) {
		if present[key] {
			continue
		}
		if key == e.ownKey && local.Unpersisted {
			continue
		}
		e.cache.Delete(key)
		delete(e.fingerprints, key)
		res.SheetsRemoved = append(res.SheetsRemoved, key)
	}

	if !hasRoster {
		rosterRaw = ""
	}
	res.RosterChanged = e.applyRoster(rosterRaw)

	seen := make(map[string]bool, len(logKeys))
	for _, key := range logKeys {
		seen[key] = true
		if e.cache.HasLog(key) {
			continue
		}
		entry, ok := codec.DecodeLog(key, snap[key])
		if !ok {
			log.Warn().Str("key", key).Msg("skipping malformed log record")
			continue
		}
		if e.cache.AppendLog(entry) {
			res.LogsAdded++
		}
	}
	res.LogsRemoved = e.cache.PruneLogs(seen)

	if res.Changed() {
		log.Debug().
			Int("sheets_changed", len(res.SheetsChanged)).
			Int("sheets_removed", len(res.SheetsRemoved)).
			Bool("roster_changed", res.RosterChanged).
			Int("logs_added", res.LogsAdded).
			Int("logs_removed", res.LogsRemoved).
			Msg("snapshot applied")
	}
	return res
}

// Forget drops the fingerprint of key. Callers that change a cached record
// locally use it so the next snapshot is merged even if the stored value
// did not change.
func (e *Engine) Forget(key string) {
	delete(e.fingerprints, key)
}

func (e *Engine) applySheet(key string, raw any, local LocalState) bool {
	var protected map[string]bool
	if key == e.ownKey {
		protected = local.Protected
	}

	fp, ok := fingerprint(raw)
	if ok && len(protected) == 0 {
		if prev, seen := e.fingerprints[key]; seen && prev == fp {
			if _, cached := e.cache.Get(key); cached {
				return false
			}
		}
	}

	changed := e.cache.MergeRemote(key, codec.DecodeSheet(raw), protected)

	// A merge that skipped protected fields did not fully absorb raw.
	if ok && len(protected) == 0 {
		e.fingerprints[key] = fp
	} else {
		delete(e.fingerprints, key)
	}
	return changed
}

func (e *Engine) applyRoster(raw any) bool {
	fp, ok := fingerprint(raw)
	if ok {
		if prev, seen := e.fingerprints[models.RosterKey]; seen && prev == fp {
			return false
		}
		e.fingerprints[models.RosterKey] = fp
	}

	next := codec.DecodeRoster(raw)
	current := e.cache.Roster()
	if equalRoster(current, next) {
		return false
	}
	e.cache.ReplaceRoster(next)
	return true
}

// fingerprint hashes the canonical JSON of v. encoding/json sorts map
// keys, so equal values hash equally.
func fingerprint(v any) (uint64, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(data), true
}

func equalRoster(a, b []models.RosterEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
