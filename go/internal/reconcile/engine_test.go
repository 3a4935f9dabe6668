package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichas-one/fichas/go/internal/cache"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/store"
)

func newEngine() (*Engine, *cache.Cache) {
	c := cache.New()
	return New(c, "sheet-me"), c
}

func TestOnSnapshot_PartitionsFamilies(t *testing.T) {
	e, c := newEngine()

	res := e.OnSnapshot(store.Snapshot{
		"sheet-a": map[string]any{"nome": "Aria", "vida": float64(4), "historico": "12|7"},
		"roster":  "Goblin,7|Orc,12",
		"log-1700000000000-aaaa1111": map[string]any{
			"msg": "Aria rolou 12", "autor": "Aria", "timestamp": float64(1700000000000),
		},
		"presence": true,
	}, LocalState{})

	assert.Equal(t, []string{"sheet-a"}, res.SheetsChanged)
	assert.True(t, res.RosterChanged)
	assert.Equal(t, 1, res.LogsAdded)
	assert.Equal(t, 1, res.Ignored)

	sheet, ok := c.Get("sheet-a")
	require.True(t, ok)
	assert.Equal(t, "Aria", sheet["nome"])
	assert.Equal(t, 4, sheet["vida"])
	assert.Equal(t, []string{"12", "7"}, sheet["historico"])
	assert.NotContains(t, sheet, "mana", "fields the snapshot lacks stay absent")

	assert.Equal(t, []models.RosterEntry{{Name: "Goblin", Value: 7}, {Name: "Orc", Value: 12}}, c.Roster())
	require.Len(t, c.Logs(), 1)
	assert.Equal(t, "Aria rolou 12", c.Logs()[0].Msg)
}

func TestOnSnapshot_SelfEchoKeepsProtectedFields(t *testing.T) {
	e, c := newEngine()
	c.UpsertLocal("sheet-me", models.Record{"nome": "Bron", "vida": 9, "acoes": 0})

	e.OnSnapshot(store.Snapshot{
		"sheet-me": map[string]any{"nome": "Bron", "vida": float64(4), "acoes": float64(2)},
	}, LocalState{Protected: map[string]bool{"vida": true}, Unpersisted: true})

	got, _ := c.Get("sheet-me")
	assert.Equal(t, 9, got["vida"])
	assert.Equal(t, 2, got["acoes"])
}

func TestOnSnapshot_OtherSheetsIgnoreProtection(t *testing.T) {
	e, c := newEngine()
	c.UpsertLocal("sheet-a", models.Record{"vida": 9})

	e.OnSnapshot(store.Snapshot{"sheet-a": map[string]any{"vida": float64(1)}},
		LocalState{Protected: map[string]bool{"vida": true}})

	got, _ := c.Get("sheet-a")
	assert.Equal(t, 1, got["vida"])
}

func TestOnSnapshot_NaNAndMissingKeepCachedValue(t *testing.T) {
	e, c := newEngine()
	c.UpsertLocal("sheet-a", models.Record{"nome": "Aria", "vida": 5})

	e.OnSnapshot(store.Snapshot{"sheet-a": map[string]any{"vida": "NaN", "mana": nil}}, LocalState{})

	got, _ := c.Get("sheet-a")
	assert.Equal(t, models.Record{"nome": "Aria", "vida": 5}, got)
}

func TestOnSnapshot_PrunesAbsentSheets(t *testing.T) {
	e, c := newEngine()
	e.OnSnapshot(store.Snapshot{
		"sheet-a":  map[string]any{"nome": "Aria"},
		"sheet-b":  map[string]any{"nome": "Bron"},
		"sheet-me": map[string]any{"nome": "Eu"},
		"roster":   "Goblin,7",
	}, LocalState{})

	res := e.OnSnapshot(store.Snapshot{"roster": "Goblin,7"}, LocalState{Unpersisted: true})

	assert.ElementsMatch(t, []string{"sheet-a", "sheet-b"}, res.SheetsRemoved)
	assert.Equal(t, []string{"sheet-me"}, c.Keys(models.SheetPrefix), "own sheet with pending edits survives")
	assert.False(t, res.RosterChanged)
	assert.Equal(t, []models.RosterEntry{{Name: "Goblin", Value: 7}}, c.Roster())

	res = e.OnSnapshot(store.Snapshot{"roster": "Goblin,7"}, LocalState{})
	assert.Equal(t, []string{"sheet-me"}, res.SheetsRemoved)
	assert.Empty(t, c.Keys(models.SheetPrefix))
}

func TestOnSnapshot_UnchangedSnapshotIsSkipped(t *testing.T) {
	e, _ := newEngine()
	snap := store.Snapshot{
		"sheet-a": map[string]any{"nome": "Aria", "vida": float64(4)},
		"roster":  "Goblin,7",
	}
	assert.True(t, e.OnSnapshot(snap, LocalState{}).Changed())
	assert.False(t, e.OnSnapshot(snap, LocalState{}).Changed())
}

func TestOnSnapshot_RosterResetAndRemoval(t *testing.T) {
	e, c := newEngine()
	e.OnSnapshot(store.Snapshot{"roster": "Goblin,7"}, LocalState{})

	res := e.OnSnapshot(store.Snapshot{"roster": ""}, LocalState{})
	assert.True(t, res.RosterChanged)
	assert.Empty(t, c.Roster())

	e.OnSnapshot(store.Snapshot{"roster": "Orc,3"}, LocalState{})
	res = e.OnSnapshot(store.Snapshot{}, LocalState{})
	assert.True(t, res.RosterChanged)
	assert.Empty(t, c.Roster())
}

func TestOnSnapshot_LogsAreWriteOnceAndPruned(t *testing.T) {
	e, c := newEngine()
	first := store.Snapshot{
		"log-1-aaaa": map[string]any{"msg": "one", "autor": "A", "timestamp": float64(1)},
		"log-2-bbbb": map[string]any{"msg": "two", "autor": "B", "timestamp": float64(2)},
	}
	e.OnSnapshot(first, LocalState{})

	rewritten := store.Snapshot{
		"log-1-aaaa": map[string]any{"msg": "rewritten", "autor": "A", "timestamp": float64(1)},
		"log-2-bbbb": first["log-2-bbbb"],
	}
	res := e.OnSnapshot(rewritten, LocalState{})
	assert.Equal(t, 0, res.LogsAdded)

	logs := c.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "two", logs[0].Msg)
	assert.Equal(t, "one", logs[1].Msg)

	res = e.OnSnapshot(store.Snapshot{}, LocalState{})
	assert.Equal(t, 2, res.LogsRemoved)
	assert.Empty(t, c.Logs())
}

func TestForget_RemergesUnchangedSnapshot(t *testing.T) {
	e, c := newEngine()
	snap := store.Snapshot{
		"sheet-a": map[string]any{"nome": "Aria", "acoes": float64(3)},
		"roster":  "Goblin,7",
	}
	e.OnSnapshot(snap, LocalState{})

	// An optimistic local change whose write never landed.
	c.UpsertLocal("sheet-a", models.Record{"nome": "Aria", "acoes": 5})
	c.ReplaceRoster(nil)
	e.Forget("sheet-a")
	e.Forget(models.RosterKey)

	res := e.OnSnapshot(snap, LocalState{})
	assert.Equal(t, []string{"sheet-a"}, res.SheetsChanged)
	assert.True(t, res.RosterChanged)

	got, _ := c.Get("sheet-a")
	assert.Equal(t, 3, got["acoes"])
	assert.Equal(t, []models.RosterEntry{{Name: "Goblin", Value: 7}}, c.Roster())
}
