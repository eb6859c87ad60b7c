// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"sync"
	"time"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender represents the author of a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"

	// senderLegacyAssistant is how older clients persisted assistant messages.
	senderLegacyAssistant Sender = "ai"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// UnmarshalJSON accepts the legacy "ai" value and normalises it.
func (s *Sender) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if Sender(raw) == senderLegacyAssistant {
		raw = string(SenderAssistant)
	}
	*s = Sender(raw)
	return nil
}

// =============================================================================
// DELIVERY STATUS
// =============================================================================

// Status tracks the delivery state of the request behind an assistant
// placeholder. The zero value means the request was transmitted.
type Status string

const (
	StatusSent    Status = ""
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID          int64     `json:"id"`
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`

	// Status is only meaningful on assistant placeholders.
	Status Status `json:"status,omitempty"`

	// Interrupted marks a reply whose stream was cut short by a dropped
	// connection or a restart.
	Interrupted bool `json:"interrupted,omitempty"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return Message{
		ID:        NextMessageID(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates a completed assistant message.
func NewAssistantMessage(text string) Message {
	return Message{
		ID:        NextMessageID(),
		Sender:    SenderAssistant,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewPlaceholder creates an empty streaming assistant message.
func NewPlaceholder() Message {
	msg := NewAssistantMessage("")
	msg.IsStreaming = true
	return msg
}

// IsAssistant reports whether the message was authored by the assistant.
func (m Message) IsAssistant() bool {
	return m.Sender == SenderAssistant
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}

// =============================================================================
// ID GENERATION
// =============================================================================

var (
	idMu   sync.Mutex
	lastID int64
)

// NextMessageID returns a time-derived identifier in milliseconds that is
// strictly greater than every identifier returned before it.
func NextMessageID() int64 {
	idMu.Lock()
	defer idMu.Unlock()

	id := time.Now().UnixMilli()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return id
}
