// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)
	defer closer()

	l := Component(logger, "stream")
	l.Debug().Str("payload", "Hi").Msg("fragment")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "fragment", entry["message"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finchat.log")
	logger, closer, err := New(Options{Level: "info", Format: FormatJSON, File: path})
	require.NoError(t, err)

	logger.Info().Msg("written")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}
