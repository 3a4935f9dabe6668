package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store key layout shared by every client in a room.
const (
	SheetPrefix = "sheet-"
	LogPrefix   = "log-"
	RosterKey   = "roster"
)

// KeyFamily classifies a store key.
type KeyFamily int

const (
	FamilyUnknown KeyFamily = iota
	FamilySheet
	FamilyRoster
	FamilyLog
)

func (f KeyFamily) String() string {
	switch f {
	case FamilySheet:
		return "sheet"
	case FamilyRoster:
		return "roster"
	case FamilyLog:
		return "log"
	default:
		return "unknown"
	}
}

// SheetKey returns the store key of the sheet owned by ownerID.
func SheetKey(ownerID string) string {
	return SheetPrefix + ownerID
}

// SheetOwner extracts the owner ID from a sheet key.
func SheetOwner(key string) (string, bool) {
	if !strings.HasPrefix(key, SheetPrefix) || len(key) == len(SheetPrefix) {
		return "", false
	}
	return key[len(SheetPrefix):], true
}

// Classify returns the family a key belongs to.
func Classify(key string) KeyFamily {
	switch {
	case key == RosterKey:
		return FamilyRoster
	case strings.HasPrefix(key, SheetPrefix) && len(key) > len(SheetPrefix):
		return FamilySheet
	case strings.HasPrefix(key, LogPrefix):
		if _, ok := LogTimestamp(key); ok {
			return FamilyLog
		}
	}
	return FamilyUnknown
}

// NewLogKey builds a unique log key for an entry created at t.
func NewLogKey(t time.Time) string {
	return fmt.Sprintf("%s%d-%s", LogPrefix, t.UnixMilli(), uuid.New().String()[:8])
}

// LogTimestamp parses the unix-millis timestamp embedded in a log key.
func LogTimestamp(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, LogPrefix)
	if !ok {
		return 0, false
	}
	ts, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
