package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	require.NoError(t, setup(&buf, "warn", false))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	zerolog.Ctx(context.Background()).Warn().Str("from", "0x01").Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "0x01", entry["from"])
	assert.Contains(t, entry, "time")
}

func TestSetupDefaultsEmptyLevelToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	require.NoError(t, setup(&bytes.Buffer{}, "", true))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, setup(&bytes.Buffer{}, "loud", false))
}
