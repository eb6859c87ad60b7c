// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/util"
)

// ErrEmptyConversation is returned for a conversation without messages.
var ErrEmptyConversation = errors.New("conversation has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation to one output format.
type Exporter interface {
	// Export returns the rendered conversation.
	Export(conv model.Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory
	OutputDir string

	// IncludeMetadata adds a header with title, dates and message count.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Dark selects the dark palette for HTML output.
	Dark bool

	// now is replaced in tests.
	now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Dark:              true,
	}
}

func (o *Options) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// ForFormat returns the exporter for a format name: json, md/markdown or
// html/htm.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, errors.Errorf("unsupported export format: %s", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile renders conv with exporter and writes it to a new file in
// opts.OutputDir. It returns the path written.
func ToFile(conv model.Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", errors.Wrap(err, "export failed")
	}

	filename := fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.Title),
		opts.clock().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", errors.Wrap(err, "write export")
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames on
// common platforms.
func sanitizeFilename(s string) string {
	s = util.Ellipsize(s, 50)
	s = strings.TrimSuffix(s, util.Ellipsis)

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := make([]rune, 0, len(s))
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// conversationSpan returns the first and last message times.
func conversationSpan(conv model.Conversation) (time.Time, time.Time) {
	var first time.Time
	for _, m := range conv.Messages {
		if !m.Timestamp.IsZero() {
			first = m.Timestamp
			break
		}
	}
	return first, conv.LastActivity()
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Format("15:04:05")
}

// messageNote describes a reply that did not complete normally.
func messageNote(m model.Message) string {
	switch {
	case m.Interrupted:
		return "interrupted"
	case m.Status == model.StatusFailed:
		return "failed to send"
	case m.Status == model.StatusPending:
		return "not sent"
	case m.IsStreaming:
		return "incomplete"
	}
	return ""
}
