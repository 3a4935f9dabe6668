package debuglog

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_CapturesFieldsAtOrAboveMinLevel(t *testing.T) {
	ring := New(10, zerolog.WarnLevel)
	logger := zerolog.New(ring).With().Timestamp().Logger()

	logger.Info().Msg("ignored")
	logger.Error().Err(errors.New("timeout")).Str("key", "sheet-a").Msg("store write failed")

	entries := ring.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, zerolog.ErrorLevel, entries[0].Level)
	assert.Equal(t, "store write failed", entries[0].Message)
	assert.Equal(t, "timeout", entries[0].Error)
	assert.Equal(t, "sheet-a", entries[0].Key)
	assert.False(t, entries[0].Time.IsZero())
}

func TestRing_OverwritesOldest(t *testing.T) {
	ring := New(2, zerolog.DebugLevel)
	logger := zerolog.New(ring)

	logger.Warn().Msg("one")
	logger.Warn().Msg("two")
	logger.Warn().Msg("three")

	entries := ring.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
	assert.Equal(t, 2, ring.Len())
}

func TestRing_PlainWriteParsesLevel(t *testing.T) {
	ring := New(4, zerolog.WarnLevel)
	_, err := ring.Write([]byte(`{"level":"debug","message":"noise"}`))
	require.NoError(t, err)
	_, err = ring.Write([]byte(`{"level":"error","message":"boom"}`))
	require.NoError(t, err)

	entries := ring.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
}
