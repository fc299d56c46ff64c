package rlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, LevelFromString("debug"))
	assert.Equal(t, zerolog.WarnLevel, LevelFromString(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, LevelFromString("bogus"))
	assert.Equal(t, zerolog.InfoLevel, LevelFromString(""))
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	SetLevel(zerolog.InfoLevel)

	Info("copied entry", "path", "/folder/a.txt", "direction", "local->remote")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "copied entry", record["message"])
	assert.Equal(t, "/folder/a.txt", record["path"])
	assert.Equal(t, "local->remote", record["direction"])
}

func TestDanglingKeyIsDropped(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})
	SetLevel(zerolog.InfoLevel)

	Warn("odd args", "path")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "odd args", record["message"])
	_, hasPath := record["path"]
	assert.False(t, hasPath)
}
