// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	data := []byte(`[{"id":"1"}]`)

	if err := AtomicWriteFile(path, data, 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", content, data)
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "deep", "value")

	if err := AtomicWriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")

	if err := AtomicWriteFile(path, []byte("initial"), 0600); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0600); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", content)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file, found %d", len(entries))
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestEllipsize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{"short", "Hello", 15, "Hello"},
		{"exact", "123456789012345", 15, "123456789012345"},
		{"long", "What is the current prime rate?", 15, "What is the cur..."},
		{"multibyte", "今天的贷款利率是多少呢请告诉我谢谢你", 15, "今天的贷款利率是多少呢请告诉我..."},
		{"zero", "Hello", 0, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ellipsize(tc.input, tc.maxRunes)
			if got != tc.want {
				t.Errorf("Ellipsize(%q, %d) = %q, want %q", tc.input, tc.maxRunes, got, tc.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	if got := TruncateWidth("Hello", 10); got != "Hello" {
		t.Errorf("TruncateWidth short = %q", got)
	}
	if got := TruncateWidth("Hello, World!", 8); StringWidth(got) > 8 {
		t.Errorf("TruncateWidth exceeded width: %q (%d)", got, StringWidth(got))
	}
	if got := TruncateWidth("你好世界你好世界", 6); StringWidth(got) > 6 {
		t.Errorf("TruncateWidth CJK exceeded width: %q (%d)", got, StringWidth(got))
	}
	if got := TruncateWidth("Hello", 0); got != "" {
		t.Errorf("TruncateWidth zero = %q, want empty", got)
	}
}

func TestRuneLen(t *testing.T) {
	if got := RuneLen("héllo"); got != 5 {
		t.Errorf("RuneLen = %d, want 5", got)
	}
	if got := RuneLen(""); got != 0 {
		t.Errorf("RuneLen empty = %d, want 0", got)
	}
}
