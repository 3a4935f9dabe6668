// Package cache holds the client's merged view of the room and applies
// the field-level merge policy.
//
// A Cache is not safe for concurrent use; the sync core serializes all
// access to it.
package cache

import (
	"sort"
	"strings"

	"github.com/fichas-one/fichas/go/internal/models"
)

// Cache maps record keys to their last known merged value.
type Cache struct {
	records map[string]models.Record
	roster  []models.RosterEntry
	logs    []models.LogEntry
	seen    map[string]bool
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		records: make(map[string]models.Record),
		roster:  []models.RosterEntry{},
		seen:    make(map[string]bool),
	}
}

// Get returns a copy of the record stored under key.
func (c *Cache) Get(key string) (models.Record, bool) {
	r, ok := c.records[key]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// UpsertLocal overwrites the record under key. It is used for records
// whose every field the local client owns.
func (c *Cache) UpsertLocal(key string, record models.Record) {
	c.records[key] = record.Clone()
}

// MergeRemote folds an incoming record into the cached one. incoming must
// already be normalized (see codec.DecodeSheet): every field it carries
// overwrites the cached value unless the field is protected. Fields the
// incoming record lacks keep their cached value. A key with no cached
// record is seeded with incoming as is. It reports whether the cached
// record changed.
func (c *Cache) MergeRemote(key string, incoming models.Record, protected map[string]bool) bool {
	current, ok := c.records[key]
	if !ok {
		seed := make(models.Record, len(incoming))
		for name, v := range incoming {
			if v != nil {
				seed[name] = v
			}
		}
		c.records[key] = seed.Clone()
		return true
	}

	changed := false
	for name, v := range incoming {
		if v == nil || protected[name] {
			continue
		}
		if equalValue(current[name], v) {
			continue
		}
		if list, isList := v.([]string); isList {
			v = append([]string{}, list...)
		}
		current[name] = v
		changed = true
	}
	return changed
}

// Delete removes the record under key.
func (c *Cache) Delete(key string) {
	delete(c.records, key)
}

// Keys returns the cached keys with the given prefix, sorted.
func (c *Cache) Keys(prefix string) []string {
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Roster returns a copy of the cached roster.
func (c *Cache) Roster() []models.RosterEntry {
	out := make([]models.RosterEntry, len(c.roster))
	copy(out, c.roster)
	return out
}

// ReplaceRoster swaps the cached roster wholesale.
func (c *Cache) ReplaceRoster(entries []models.RosterEntry) {
	c.roster = make([]models.RosterEntry, len(entries))
	copy(c.roster, entries)
}

// HasLog reports whether the log key was already appended.
func (c *Cache) HasLog(key string) bool {
	return c.seen[key]
}

// AppendLog adds a previously unseen log entry, keeping the view ordered
// newest first. Seen keys are ignored because log records are write-once.
func (c *Cache) AppendLog(entry models.LogEntry) bool {
	if c.seen[entry.Key] {
		return false
	}
	c.seen[entry.Key] = true

	idx := sort.Search(len(c.logs), func(i int) bool {
		return newerFirst(entry, c.logs[i])
	})
	c.logs = append(c.logs, models.LogEntry{})
	copy(c.logs[idx+1:], c.logs[idx:])
	c.logs[idx] = entry
	return true
}

// PruneLogs drops log entries whose keys are not in present. It returns
// the number of entries removed.
func (c *Cache) PruneLogs(present map[string]bool) int {
	kept := c.logs[:0]
	removed := 0
	for _, e := range c.logs {
		if present[e.Key] {
			kept = append(kept, e)
			continue
		}
		delete(c.seen, e.Key)
		removed++
	}
	c.logs = kept
	return removed
}

// Logs returns the log view, newest first.
func (c *Cache) Logs() []models.LogEntry {
	out := make([]models.LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// LogKeys returns the keys of every cached log entry.
func (c *Cache) LogKeys() []string {
	keys := make([]string, len(c.logs))
	for i, e := range c.logs {
		keys[i] = e.Key
	}
	return keys
}

func newerFirst(a, b models.LogEntry) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Key > b.Key
}

func equalValue(a, b any) bool {
	la, okA := a.([]string)
	lb, okB := b.([]string)
	if okA || okB {
		if !okA || !okB || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if la[i] != lb[i] {
				return false
			}
		}
		return true
	}
	switch a.(type) {
	case string, int, bool, nil:
		return a == b
	}
	return false
}
