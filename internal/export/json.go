// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/morganforge/finchat/internal/model"
)

// JSONExporter writes the conversation exactly as it is persisted, so the
// output can be read back with encoding/json into a model.Conversation.
// Options are ignored.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a conversation to JSON format.
func (e *JSONExporter) Export(conv model.Conversation) ([]byte, error) {
	if len(conv.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	return json.MarshalIndent(conv, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
