package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, FamilySheet, Classify("sheet-abc"))
	assert.Equal(t, FamilyRoster, Classify("roster"))
	assert.Equal(t, FamilyLog, Classify("log-1700000000000-a1b2c3d4"))
	assert.Equal(t, FamilyUnknown, Classify("sheet-"))
	assert.Equal(t, FamilyUnknown, Classify("log-notanumber"))
	assert.Equal(t, FamilyUnknown, Classify("ficha-abc"))
}

func TestNewLogKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	key := NewLogKey(now)
	assert.Equal(t, FamilyLog, Classify(key))

	ts, ok := LogTimestamp(key)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000123), ts)
	assert.NotEqual(t, key, NewLogKey(now), "random suffix keeps keys unique")
}

func TestSheetFromRecord_Defaults(t *testing.T) {
	s := SheetFromRecord("p1", Record{FieldNome: "Bron"})
	assert.Equal(t, "Bron", s.Nome)
	assert.Equal(t, 10, s.Vida)
	assert.Equal(t, 5, s.Mana)
	assert.Equal(t, TipoCombatente, s.Tipo)
	assert.Equal(t, AtributoForca, s.Atributo)
	assert.Equal(t, []string{}, s.Historico)
}

func TestRecordClone(t *testing.T) {
	r := Record{FieldHistorico: []string{"1"}}
	c := r.Clone()
	c[FieldHistorico].([]string)[0] = "2"
	assert.Equal(t, "1", r[FieldHistorico].([]string)[0])
}
