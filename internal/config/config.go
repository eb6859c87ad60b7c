// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/morganforge/finchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete finchat configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" json:"server"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Upload     UploadConfig     `toml:"upload" json:"upload"`
	UI         UIConfig         `toml:"ui" json:"ui"`
	Log        LogConfig        `toml:"log" json:"log"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// BaseURL is the REST root, e.g. http://localhost:8000
	BaseURL string `toml:"base_url" json:"base_url"`
	// ChatURL is the streaming WebSocket endpoint
	ChatURL            string  `toml:"chat_url" json:"chat_url"`
	RequestTimeoutSecs int     `toml:"request_timeout_secs" json:"request_timeout_secs"`
	RequestsPerSecond  float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// ConnectionConfig tunes the streaming connection.
type ConnectionConfig struct {
	KeepaliveSecs        int `toml:"keepalive_secs" json:"keepalive_secs"`
	HealthCheckSecs      int `toml:"health_check_secs" json:"health_check_secs"`
	ReconnectBaseMs      int `toml:"reconnect_base_ms" json:"reconnect_base_ms"`
	ReconnectCapMs       int `toml:"reconnect_cap_ms" json:"reconnect_cap_ms"`
	HandshakeTimeoutSecs int `toml:"handshake_timeout_secs" json:"handshake_timeout_secs"`
	// WireFormat is "legacy", "tagged" or "auto"
	WireFormat string `toml:"wire_format" json:"wire_format"`
}

// StorageConfig selects where local state lives.
type StorageConfig struct {
	// Backend is "sqlite" or "file"
	Backend string `toml:"backend" json:"backend"`
	// Path is the database or state file; empty means inside the config dir
	Path string `toml:"path" json:"path"`
}

// UploadConfig limits document uploads.
type UploadConfig struct {
	MaxConcurrent     int      `toml:"max_concurrent" json:"max_concurrent"`
	MaxSizeMB         int      `toml:"max_size_mb" json:"max_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions" json:"allowed_extensions"`
	RejectionTTLSecs  int      `toml:"rejection_ttl_secs" json:"rejection_ttl_secs"`
}

// UIConfig holds front-end preferences.
type UIConfig struct {
	// DarkMode forces the theme; unset means follow the stored preference
	DarkMode *bool `toml:"dark_mode,omitempty" json:"dark_mode,omitempty"`
	// UseRAG asks the backend to ground answers in uploaded documents
	UseRAG bool `toml:"use_rag" json:"use_rag"`
}

// LogConfig controls diagnostics.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	File   string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:            "http://localhost:8000",
			ChatURL:            "ws://localhost:8000/chat",
			RequestTimeoutSecs: 10,
			RequestsPerSecond:  10,
		},
		Connection: ConnectionConfig{
			KeepaliveSecs:        20,
			HealthCheckSecs:      20,
			ReconnectBaseMs:      1000,
			ReconnectCapMs:       15000,
			HandshakeTimeoutSecs: 10,
			WireFormat:           "legacy",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Upload: UploadConfig{
			MaxConcurrent:     3,
			MaxSizeMB:         20,
			AllowedExtensions: []string{".pdf", ".docx", ".xlsx", ".xls"},
			RejectionTTLSecs:  5,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = d.Server.BaseURL
	}
	if c.Server.ChatURL == "" {
		c.Server.ChatURL = d.Server.ChatURL
	}
	if c.Server.RequestTimeoutSecs == 0 {
		c.Server.RequestTimeoutSecs = d.Server.RequestTimeoutSecs
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = d.Server.RequestsPerSecond
	}

	if c.Connection.KeepaliveSecs == 0 {
		c.Connection.KeepaliveSecs = d.Connection.KeepaliveSecs
	}
	if c.Connection.HealthCheckSecs == 0 {
		c.Connection.HealthCheckSecs = d.Connection.HealthCheckSecs
	}
	if c.Connection.ReconnectBaseMs == 0 {
		c.Connection.ReconnectBaseMs = d.Connection.ReconnectBaseMs
	}
	if c.Connection.ReconnectCapMs == 0 {
		c.Connection.ReconnectCapMs = d.Connection.ReconnectCapMs
	}
	if c.Connection.HandshakeTimeoutSecs == 0 {
		c.Connection.HandshakeTimeoutSecs = d.Connection.HandshakeTimeoutSecs
	}
	if c.Connection.WireFormat == "" {
		c.Connection.WireFormat = d.Connection.WireFormat
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}

	if c.Upload.MaxConcurrent == 0 {
		c.Upload.MaxConcurrent = d.Upload.MaxConcurrent
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = d.Upload.MaxSizeMB
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = d.Upload.AllowedExtensions
	}
	if c.Upload.RejectionTTLSecs == 0 {
		c.Upload.RejectionTTLSecs = d.Upload.RejectionTTLSecs
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

func (c ConnectionConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSecs) * time.Second
}

func (c ConnectionConfig) HealthCheck() time.Duration {
	return time.Duration(c.HealthCheckSecs) * time.Second
}

func (c ConnectionConfig) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMs) * time.Millisecond
}

func (c ConnectionConfig) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapMs) * time.Millisecond
}

func (c ConnectionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSecs) * time.Second
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c UploadConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

func (c UploadConfig) RejectionTTL() time.Duration {
	return time.Duration(c.RejectionTTLSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the finchat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("FINCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".finchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StoragePath returns the configured storage location, or the default file
// for the backend inside the config directory.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(c.Storage.Backend, "file") {
		return filepath.Join(dir, "state.json"), nil
	}
	return filepath.Join(dir, "state.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.finchat/config.toml, then config.json, then falls back to
// defaults. Environment overrides are applied last. A file that exists but
// cannot be parsed is reported alongside the usable defaults.
func Load() (*Config, error) {
	var loadErr error

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		if loadErr == nil {
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, loadErr
}

// LoadFromPath loads a configuration file. The format follows the extension:
// .json is JSON, anything else TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ReadFile decodes path as written, without environment overrides or
// validation. Missing keys keep their defaults.
func ReadFile(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "decode %s", path)
		}
	}

	cfg.SetDefaults()
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# finchat configuration file\n")
	b.WriteString("# Generated by finchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrap(util.AtomicWriteFile(path, []byte(b.String()), 0600), "write config")
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if msg := checkURL(c.Server.BaseURL, "http", "https"); msg != "" {
		add("server.base_url", "%s", msg)
	}
	if msg := checkURL(c.Server.ChatURL, "ws", "wss"); msg != "" {
		add("server.chat_url", "%s", msg)
	}
	if c.Server.RequestTimeoutSecs < 0 {
		add("server.request_timeout_secs", "must not be negative")
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must not be negative")
	}

	if c.Connection.KeepaliveSecs < 0 {
		add("connection.keepalive_secs", "must not be negative")
	}
	if c.Connection.HealthCheckSecs < 0 {
		add("connection.health_check_secs", "must not be negative")
	}
	if c.Connection.ReconnectBaseMs < 0 {
		add("connection.reconnect_base_ms", "must not be negative")
	}
	if c.Connection.ReconnectCapMs > 0 && c.Connection.ReconnectCapMs < c.Connection.ReconnectBaseMs {
		add("connection.reconnect_cap_ms", "must be at least reconnect_base_ms (%d)", c.Connection.ReconnectBaseMs)
	}
	switch strings.ToLower(c.Connection.WireFormat) {
	case "", "legacy", "tagged", "auto":
	default:
		add("connection.wire_format", "invalid format '%s', must be one of: legacy, tagged, auto", c.Connection.WireFormat)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "", "sqlite", "file", "memory":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: sqlite, file, memory", c.Storage.Backend)
	}

	if c.Upload.MaxConcurrent < 0 {
		add("upload.max_concurrent", "must not be negative")
	}
	if c.Upload.MaxSizeMB < 0 {
		add("upload.max_size_mb", "must not be negative")
	}
	if c.Upload.RejectionTTLSecs < 0 {
		add("upload.rejection_ttl_secs", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled", "off":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: console, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(raw string, schemes ...string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return "URL has no host"
			}
			return ""
		}
	}
	return fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", "))
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - FINCHAT_BASE_URL: overrides server.base_url
//   - FINCHAT_CHAT_URL: overrides server.chat_url
//   - FINCHAT_LOG_LEVEL: overrides log.level
//   - FINCHAT_STORAGE: overrides storage.backend
//   - FINCHAT_WIRE_FORMAT: overrides connection.wire_format
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FINCHAT_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("FINCHAT_CHAT_URL"); v != "" {
		c.Server.ChatURL = v
	}
	if v := os.Getenv("FINCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FINCHAT_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("FINCHAT_WIRE_FORMAT"); v != "" {
		c.Connection.WireFormat = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its file key, e.g. "connection.wire_format".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil, nil
		}
		return field.Elem().Interface(), nil
	}
	return field.Interface(), nil
}

// Set assigns a value by its file key. String input is converted to the
// field's type.
func (c *Config) Set(key string, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return errors.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) == 0 || parts[0] == "" {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, errors.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, errors.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, errors.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid integer value")
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrap(err, "invalid float value")
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.Wrap(err, "invalid boolean value")
		}
		field.SetBool(b)
	case reflect.Ptr:
		if field.Type().Elem().Kind() != reflect.Bool {
			return errors.Errorf("unsupported field type %s", field.Type())
		}
		if s == "" {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return errors.Wrap(err, "invalid boolean value")
		}
		field.Set(reflect.ValueOf(&b))
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return errors.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Upload.AllowedExtensions != nil {
		clone.Upload.AllowedExtensions = append([]string(nil), c.Upload.AllowedExtensions...)
	}
	if c.UI.DarkMode != nil {
		dark := *c.UI.DarkMode
		clone.UI.DarkMode = &dark
	}
	return &clone
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}
