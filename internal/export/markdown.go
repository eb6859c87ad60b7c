// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/morganforge/finchat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv model.Conversation) ([]byte, error) {
	if len(conv.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var sb strings.Builder
	first, last := conversationSpan(conv)

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(conv.Title)))
		sb.WriteString(fmt.Sprintf("id: %s\n", conv.ID))
		if !first.IsZero() {
			sb.WriteString(fmt.Sprintf("date: %s\n", first.Format(time.RFC3339)))
		}
		if !last.IsZero() {
			sb.WriteString(fmt.Sprintf("updated: %s\n", last.Format(time.RFC3339)))
		}
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", e.options.clock().Format(time.RFC3339)))
		sb.WriteString("generator: finchat\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(conv.Title)))

	for i, msg := range conv.Messages {
		label := msg.Sender.DisplayName()
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		sb.WriteString(strings.TrimSpace(msg.Text))
		sb.WriteString("\n\n")
		if note := messageNote(msg); note != "" {
			sb.WriteString(fmt.Sprintf("> *(%s)*\n\n", note))
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from finchat on %s*\n",
		e.options.clock().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values containing YAML syntax or line breaks.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
