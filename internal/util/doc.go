// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across finchat packages.
//
// # Key Functions
//
// String Utilities:
//   - Ellipsize: rune-safe prefix with a trailing ellipsis (conversation titles)
//   - TruncateWidth: display-width aware truncation for terminal listings
//   - RuneLen: character count for UTF-8 strings
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.Ellipsize(firstMessage, 15)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
