// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/finchat/internal/model"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testOptions(t *testing.T) *Options {
	opts := DefaultOptions()
	opts.OutputDir = t.TempDir()
	opts.now = func() time.Time { return fixedNow }
	return opts
}

func sampleConversation() model.Conversation {
	at := time.Date(2025, 5, 31, 9, 30, 0, 0, time.UTC)
	user := model.NewUserMessage("What is a bond ladder?")
	user.Timestamp = at
	reply := model.NewAssistantMessage("A ladder staggers maturities.\nIt smooths reinvestment risk.")
	reply.Timestamp = at.Add(time.Minute)
	return model.Conversation{
		ID:       "conv-1",
		Title:    "What is a bond...",
		Messages: []model.Message{user, reply},
	}
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions(t)).Export(sampleConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\n"))
	assert.Contains(t, md, "id: conv-1")
	assert.Contains(t, md, "messages: 2")
	assert.Contains(t, md, "### You <sub>09:30:00</sub>")
	assert.Contains(t, md, "### Assistant <sub>09:31:00</sub>")
	assert.Contains(t, md, "It smooths reinvestment risk.")
	assert.Contains(t, md, "generator: finchat")
}

func TestMarkdownExport_NotesIncompleteReplies(t *testing.T) {
	conv := sampleConversation()
	conv.Messages[1].Interrupted = true

	out, err := NewMarkdownExporter(testOptions(t)).Export(conv)
	require.NoError(t, err)
	assert.Contains(t, string(out), "*(interrupted)*")
}

func TestMarkdownExport_TitleCannotInjectFrontmatter(t *testing.T) {
	conv := sampleConversation()
	conv.Title = "Test\nInjection: malicious"

	out, err := NewMarkdownExporter(testOptions(t)).Export(conv)
	require.NoError(t, err)
	for _, line := range strings.Split(string(out), "\n")[:10] {
		assert.False(t, strings.HasPrefix(line, "Injection:"), "newline in title escaped into frontmatter")
	}
}

func TestHTMLExport_EscapesContent(t *testing.T) {
	conv := sampleConversation()
	conv.Messages[0].Text = "<script>alert('x')</script>"

	opts := testOptions(t)
	opts.Dark = false
	out, err := NewHTMLExporter(opts).Export(conv)
	require.NoError(t, err)
	page := string(out)

	assert.NotContains(t, page, "<script>alert")
	assert.Contains(t, page, "&lt;script&gt;")
	assert.Contains(t, page, `class="light-theme"`)
	assert.Contains(t, page, "A ladder staggers maturities.<br>")
}

func TestJSONExport_RoundTrips(t *testing.T) {
	conv := sampleConversation()
	out, err := NewJSONExporter(nil).Export(conv)
	require.NoError(t, err)

	var back model.Conversation
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, conv.ID, back.ID)
	assert.Len(t, back.Messages, 2)
	assert.Equal(t, conv.Messages[1].Text, back.Messages[1].Text)
}

func TestEmptyConversationIsRejected(t *testing.T) {
	for _, format := range []string{"md", "json", "html"} {
		exp, err := ForFormat(format, nil)
		require.NoError(t, err)
		_, err = exp.Export(model.Conversation{ID: "x"})
		assert.ErrorIs(t, err, ErrEmptyConversation, format)
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"", ".md"},
		{"markdown", ".md"},
		{"JSON", ".json"},
		{"htm", ".html"},
	}
	for _, tt := range tests {
		exp, err := ForFormat(tt.format, nil)
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.ext, exp.FileExtension())
	}

	_, err := ForFormat("pdf", nil)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	opts := testOptions(t)
	conv := sampleConversation()
	conv.Title = "Rates: 2025/Q2?"

	path, err := ToFile(conv, NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, opts.OutputDir, filepath.Dir(path))
	assert.Equal(t, "conversation_Rates-_2025-Q2-_20250601_120000.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bond ladder")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "conversation", sanitizeFilename(""))
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, 50, len([]rune(sanitizeFilename(strings.Repeat("x", 80)))))
}
