// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8000", cfg.Server.BaseURL)
	assert.Equal(t, "ws://localhost:8000/chat", cfg.Server.ChatURL)
	assert.Equal(t, "legacy", cfg.Connection.WireFormat)
	assert.Equal(t, time.Second, cfg.Connection.ReconnectBase())
	assert.Equal(t, 15*time.Second, cfg.Connection.ReconnectCap())
	assert.Equal(t, 20*time.Second, cfg.Connection.Keepalive())
	assert.Equal(t, int64(20*1024*1024), cfg.Upload.MaxSizeBytes())
	assert.Equal(t, 3, cfg.Upload.MaxConcurrent)
	assert.Nil(t, cfg.UI.DarkMode)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad base url scheme", func(c *Config) { c.Server.BaseURL = "ftp://x" }, "server.base_url"},
		{"chat url must be ws", func(c *Config) { c.Server.ChatURL = "http://localhost:8000/chat" }, "server.chat_url"},
		{"chat url without host", func(c *Config) { c.Server.ChatURL = "ws:///chat" }, "server.chat_url"},
		{"cap below base", func(c *Config) { c.Connection.ReconnectCapMs = 500 }, "connection.reconnect_cap_ms"},
		{"wire format", func(c *Config) { c.Connection.WireFormat = "xml" }, "connection.wire_format"},
		{"backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"negative uploads", func(c *Config) { c.Upload.MaxConcurrent = -1 }, "upload.max_concurrent"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tc.field, verrs[0].Field)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{Server: ServerConfig{BaseURL: "https://bank.example"}}
	cfg.SetDefaults()

	assert.Equal(t, "https://bank.example", cfg.Server.BaseURL)
	assert.Equal(t, "ws://localhost:8000/chat", cfg.Server.ChatURL)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, []string{".pdf", ".docx", ".xlsx", ".xls"}, cfg.Upload.AllowedExtensions)
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
chat_url = "wss://chat.example/chat"

[connection]
wire_format = "tagged"
reconnect_cap_ms = 30000

[ui]
dark_mode = true
use_rag = true
`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example/chat", cfg.Server.ChatURL)
	assert.Equal(t, "tagged", cfg.Connection.WireFormat)
	assert.Equal(t, 30*time.Second, cfg.Connection.ReconnectCap())
	assert.Equal(t, time.Second, cfg.Connection.ReconnectBase(), "unset values take defaults")
	require.NotNil(t, cfg.UI.DarkMode)
	assert.True(t, *cfg.UI.DarkMode)
	assert.True(t, cfg.UI.UseRAG)
}

func TestLoadFromPath_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"backend":"file"},"log":{"level":"debug"}}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\nwire_format = \"morse\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	var verrs ValidateErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Setenv("FINCHAT_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_BrokenTOMLReportsErrorWithDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FINCHAT_HOME", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[server\n"), 0600))

	cfg, err := Load()
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "legacy", cfg.Connection.WireFormat)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FINCHAT_BASE_URL", "https://api.example")
	t.Setenv("FINCHAT_CHAT_URL", "wss://api.example/chat")
	t.Setenv("FINCHAT_LOG_LEVEL", "debug")
	t.Setenv("FINCHAT_STORAGE", "file")
	t.Setenv("FINCHAT_WIRE_FORMAT", "auto")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "https://api.example", cfg.Server.BaseURL)
	assert.Equal(t, "wss://api.example/chat", cfg.Server.ChatURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "auto", cfg.Connection.WireFormat)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Connection.WireFormat = "auto"
	dark := false
	cfg.UI.DarkMode = &dark

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "auto", loaded.Connection.WireFormat)
	require.NotNil(t, loaded.UI.DarkMode)
	assert.False(t, *loaded.UI.DarkMode)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("connection.wire_format", "tagged"))
	v, err := cfg.Get("connection.wire_format")
	require.NoError(t, err)
	assert.Equal(t, "tagged", v)

	require.NoError(t, cfg.Set("upload.max_concurrent", "5"))
	assert.Equal(t, 5, cfg.Upload.MaxConcurrent)

	require.NoError(t, cfg.Set("ui.dark_mode", "true"))
	v, err = cfg.Get("ui.dark_mode")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	require.NoError(t, cfg.Set("upload.allowed_extensions", ".pdf, .csv"))
	assert.Equal(t, []string{".pdf", ".csv"}, cfg.Upload.AllowedExtensions)

	assert.Error(t, cfg.Set("upload.max_concurrent", "many"))
	assert.Error(t, cfg.Set("nope.field", "x"))
	_, err = cfg.Get("server")
	assert.NoError(t, err)
	_, err = cfg.Get("server.base_url.extra")
	assert.Error(t, err)
}

func TestConfig_Clone(t *testing.T) {
	dark := true
	cfg := Default()
	cfg.UI.DarkMode = &dark

	clone := cfg.Clone()
	clone.Upload.AllowedExtensions[0] = ".exe"
	*clone.UI.DarkMode = false

	assert.Equal(t, ".pdf", cfg.Upload.AllowedExtensions[0])
	assert.True(t, *cfg.UI.DarkMode)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	var mu sync.Mutex
	var got []*Config
	w, err := Watch(path, 20*time.Millisecond, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	cfg := Default()
	cfg.Log.Level = "debug"
	require.NoError(t, SaveTOML(cfg, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Log.Level == "debug"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatch_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	w, err := Watch(path, 0, func(*Config, error) {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
