// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended by Ellipsize when it shortens a string.
const Ellipsis = "..."

// Ellipsize keeps the first maxRunes characters of s and appends Ellipsis
// when s is longer. Strings that fit are returned unchanged.
//
// Unlike TruncateWidth the ellipsis does not count against maxRunes, so
// Ellipsize("What is the current prime rate?", 15) is "What is the cur...".
func Ellipsize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + Ellipsis
}

// TruncateWidth truncates s to at most maxWidth terminal columns, ending with
// Ellipsis when anything was cut. Double-width (CJK) characters count as two.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// StringWidth returns the display width of s in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// RuneLen returns the number of characters in s.
func RuneLen(s string) int {
	return len([]rune(s))
}
