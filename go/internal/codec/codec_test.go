package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeList_RoundTrip(t *testing.T) {
	for n := 0; n <= 10; n++ {
		list := make([]string, n)
		for i := range list {
			list[i] = fmt.Sprintf("1d20=%d", i+1)
		}
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			assert.Equal(t, list, DecodeList(EncodeList(list)))
		})
	}
}

func TestDecodeList_LossyElements(t *testing.T) {
	assert.Equal(t, []string{}, DecodeList(EncodeList([]string{""})))
	assert.Equal(t, []string{"a", "b", "c"}, DecodeList(EncodeList([]string{"a|b", "c"})))
}

func TestDecodeList_Encodings(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []string
	}{
		{name: "nil", raw: nil, want: []string{}},
		{name: "number", raw: 42.0, want: []string{}},
		{name: "bool", raw: true, want: []string{}},
		{name: "object", raw: map[string]any{"a": "b"}, want: []string{}},
		{name: "empty string", raw: "", want: []string{}},
		{name: "pipe string", raw: "18|7|3", want: []string{"18", "7", "3"}},
		{name: "json array", raw: []any{"18", "7"}, want: []string{"18", "7"}},
		{name: "json array with numbers", raw: []any{18.0, "7"}, want: []string{"18", "7"}},
		{name: "string slice", raw: []string{"a"}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeList(tt.raw))
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		raw    any
		want   int
		wantOk bool
	}{
		{raw: 3.0, want: 3, wantOk: true},
		{raw: 3.9, want: 3, wantOk: true},
		{raw: 7, want: 7, wantOk: true},
		{raw: "12", want: 12, wantOk: true},
		{raw: json.Number("5"), want: 5, wantOk: true},
		{raw: math.NaN(), wantOk: false},
		{raw: math.Inf(1), wantOk: false},
		{raw: "abc", wantOk: false},
		{raw: nil, wantOk: false},
		{raw: []any{}, wantOk: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.raw), func(t *testing.T) {
			got, ok := Int(tt.raw)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizeField(t *testing.T) {
	v, ok := NormalizeField(models.FieldVida, -4.0)
	require.True(t, ok)
	assert.Equal(t, 0, v, "numeric attributes are clamped at zero")

	_, ok = NormalizeField(models.FieldVida, math.NaN())
	assert.False(t, ok, "NaN is treated as absent")

	_, ok = NormalizeField(models.FieldTipo, "Bardo")
	assert.False(t, ok, "unknown enum value is treated as absent")

	v, ok = NormalizeField(models.FieldHistorico, "a|b|c|d")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, v)

	_, ok = NormalizeField(models.FieldNome, nil)
	assert.False(t, ok)

	v, ok = NormalizeField("cor", "azul")
	require.True(t, ok, "unknown fields are kept verbatim")
	assert.Equal(t, "azul", v)
}

func TestDecodeEncodeSheet(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{
		"nome": "Aria",
		"vida": 8,
		"mana": "NaN",
		"historico": ["17", "4"],
		"tipo": "Conjurador"
	}`), &raw))

	rec := DecodeSheet(raw)
	assert.Equal(t, models.Record{
		"nome":      "Aria",
		"vida":      8,
		"historico": []string{"17", "4"},
		"tipo":      "Conjurador",
	}, rec)

	wire := EncodeSheet(rec)
	assert.Equal(t, "17|4", wire["historico"], "historico is always written pipe-joined")
	assert.Equal(t, "Aria", wire["nome"])

	assert.Empty(t, DecodeSheet("not an object"))
}

func TestRosterCodec(t *testing.T) {
	entries := []models.RosterEntry{
		{Name: "Goblin", Value: 7},
		{Name: "Orc, the Large", Value: 15},
	}
	wire := EncodeRoster(entries)
	assert.Equal(t, "Goblin,7|Orc, the Large,15", wire)
	assert.Equal(t, entries, DecodeRoster(wire))

	assert.Equal(t, []models.RosterEntry{}, DecodeRoster(nil))
	assert.Equal(t, []models.RosterEntry{}, DecodeRoster(""))
	assert.Equal(t, []models.RosterEntry{{Name: "Rato", Value: 0}}, DecodeRoster("Rato,x"))
	assert.Equal(t, []models.RosterEntry{{Name: "Lobo"}}, DecodeRoster("Lobo"))
}

func TestDecodeLog(t *testing.T) {
	entry, ok := DecodeLog("log-1700000000000-abcd1234", map[string]any{
		"msg":   "Aria rolou 1d20: 17",
		"autor": "Aria",
	})
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), entry.Timestamp, "timestamp comes from the key")
	assert.Equal(t, "Aria", entry.Autor)

	entry, ok = DecodeLog("log-1700000000000-abcd1234", map[string]any{
		"msg":       "x",
		"timestamp": 1600000000000.0,
	})
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), entry.Timestamp, "key timestamp wins over the payload")

	entry, ok = DecodeLog("log-legacy", map[string]any{"msg": "x", "timestamp": 42.0})
	require.True(t, ok)
	assert.Equal(t, int64(42), entry.Timestamp)

	_, ok = DecodeLog("log-1-x", "oops")
	assert.False(t, ok)
}
