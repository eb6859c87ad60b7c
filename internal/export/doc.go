// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to files people can keep or share.
//
// # Supported Formats
//
//   - JSON: the stored representation, suitable for re-import
//   - Markdown: human-readable transcript with YAML frontmatter
//   - HTML: standalone page styled for the light or dark theme
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ToFile(conv, exp, opts)
package export
