// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/morganforge/finchat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone page with embedded CSS.
// Message text is escaped and shown with its line breaks; markdown is not
// rendered.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML format.
func (e *HTMLExporter) Export(conv model.Conversation) ([]byte, error) {
	if len(conv.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	theme := "light"
	if e.options.Dark {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(conv.Title)))
	sb.WriteString("    <meta name=\"generator\" content=\"finchat\">\n")
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n<div class=\"container\">\n", theme))

	if e.options.IncludeMetadata {
		first, last := conversationSpan(conv)
		sb.WriteString("    <header>\n")
		sb.WriteString(fmt.Sprintf("        <h1>%s</h1>\n", html.EscapeString(conv.Title)))
		sb.WriteString(fmt.Sprintf("        <p class=\"meta\">%d messages &middot; %s &ndash; %s</p>\n",
			len(conv.Messages), formatTimestamp(first), formatTimestamp(last)))
		sb.WriteString("    </header>\n")
	}

	sb.WriteString("    <main>\n")
	for _, msg := range conv.Messages {
		e.renderMessage(&sb, msg)
	}
	sb.WriteString("    </main>\n")
	sb.WriteString(fmt.Sprintf("    <footer>Exported from finchat on %s</footer>\n",
		html.EscapeString(e.options.clock().Format(time.RFC1123))))
	sb.WriteString("</div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

func (e *HTMLExporter) renderMessage(sb *strings.Builder, msg model.Message) {
	class := "assistant"
	if msg.IsUser() {
		class = "user"
	}
	sb.WriteString(fmt.Sprintf("        <section class=\"message %s\">\n", class))
	sb.WriteString(fmt.Sprintf("            <div class=\"role\">%s", html.EscapeString(msg.Sender.DisplayName())))
	if e.options.IncludeTimestamps {
		sb.WriteString(fmt.Sprintf(" <time>%s</time>", formatShortTimestamp(msg.Timestamp)))
	}
	sb.WriteString("</div>\n")
	text := html.EscapeString(strings.TrimSpace(msg.Text))
	sb.WriteString(fmt.Sprintf("            <div class=\"content\">%s</div>\n", strings.ReplaceAll(text, "\n", "<br>\n")))
	if note := messageNote(msg); note != "" {
		sb.WriteString(fmt.Sprintf("            <div class=\"note\">%s</div>\n", note))
	}
	sb.WriteString("        </section>\n")
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

const css = `    <style>
        body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; line-height: 1.5; }
        .dark-theme { background: #111827; color: #E5E7EB; }
        .light-theme { background: #F9FAFB; color: #111827; }
        .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
        .meta, time, footer { opacity: 0.6; font-size: 0.85rem; }
        .message { border-radius: 8px; padding: 0.75rem 1rem; margin: 0.75rem 0; }
        .dark-theme .user { background: #1F2937; }
        .dark-theme .assistant { background: #1E1B4B; }
        .light-theme .user { background: #E0F2FE; }
        .light-theme .assistant { background: #EDE9FE; }
        .role { font-weight: 600; margin-bottom: 0.25rem; }
        .note { font-style: italic; color: #F59E0B; margin-top: 0.25rem; }
        footer { margin-top: 2rem; text-align: center; }
    </style>
`
