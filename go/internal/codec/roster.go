package codec

import (
	"strconv"
	"strings"

	"github.com/fichas-one/fichas/go/internal/models"
)

// rosterFieldDelimiter separates name and value inside a roster entry.
const rosterFieldDelimiter = ","

// DecodeRoster parses the compact roster encoding "name,value|name,value".
// Entries without a parsable value get 0; empty entries are skipped.
func DecodeRoster(raw any) []models.RosterEntry {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = DecodeList(v)
	case []any:
		parts = DecodeList(v)
	default:
		return []models.RosterEntry{}
	}

	entries := make([]models.RosterEntry, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, rosterFieldDelimiter)
		if idx < 0 {
			entries = append(entries, models.RosterEntry{Name: part})
			continue
		}
		n, _ := Int(part[idx+1:])
		entries = append(entries, models.RosterEntry{
			Name:  part[:idx],
			Value: NonNegative(n),
		})
	}
	return entries
}

// EncodeRoster returns the compact wire form of a roster.
func EncodeRoster(entries []models.RosterEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name + rosterFieldDelimiter + strconv.Itoa(e.Value)
	}
	return EncodeList(parts)
}

// DecodeLog parses a log payload. ok is false when raw is not an object.
// Entries are ordered by the timestamp embedded in the key; the payload's
// timestamp is used only for keys without one.
func DecodeLog(key string, raw any) (models.LogEntry, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return models.LogEntry{}, false
	}
	entry := models.LogEntry{Key: key}
	if s, ok := m["msg"].(string); ok {
		entry.Msg = s
	}
	if s, ok := m["autor"].(string); ok {
		entry.Autor = s
	}
	if ts, ok := models.LogTimestamp(key); ok {
		entry.Timestamp = ts
	} else if ts, ok := Int(m["timestamp"]); ok {
		entry.Timestamp = int64(ts)
	}
	return entry, true
}
