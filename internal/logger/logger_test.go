package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	old := log.Logger
	t.Cleanup(func() { log.Logger = old })

	var out, file bytes.Buffer
	_, err := Setup("wiregroup", Options{Level: "debug", Out: &out, File: &file})
	require.NoError(t, err)

	l := GetLogger("scheduler")
	l.Debug().Str("group_id", "g1").Msg("assigned")
	l.Trace().Msg("dropped")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "wiregroup", entry["service"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "g1", entry["group_id"])
	assert.Equal(t, "assigned", entry["message"])
	assert.Equal(t, out.String(), file.String())
	assert.NotContains(t, out.String(), "dropped")
}

func TestSetupDevelopment(t *testing.T) {
	old := log.Logger
	t.Cleanup(func() { log.Logger = old })

	var out bytes.Buffer
	_, err := Setup("wiregroup", Options{Development: true, Out: &out})
	require.NoError(t, err)
	l := GetLogger("engine")
	l.Info().Msg("started")

	line := out.String()
	assert.True(t, strings.Contains(line, "| started |"), line)
	assert.Contains(t, line, "[ INFO]")
}

func TestSetupInvalidLevel(t *testing.T) {
	_, err := Setup("wiregroup", Options{Level: "loud"})
	assert.Error(t, err)
}
