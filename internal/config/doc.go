// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for finchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, validation, and change notification.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (FINCHAT_*)
//   - ~/.finchat/config.toml
//   - ~/.finchat/config.json
//   - Built-in defaults
//
// FINCHAT_HOME replaces ~/.finchat as the configuration directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	keepalive := cfg.Connection.Keepalive()
package config
