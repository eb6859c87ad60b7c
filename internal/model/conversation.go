// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/finchat/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// PlaceholderTitle is the title of a conversation nobody has written in yet.
	PlaceholderTitle = "New conversation"

	// Greeting is the assistant message every new conversation starts with.
	Greeting = "Hello! I'm BOCAI, your financial assistant. How can I help you today?"

	// TitleMaxRunes is how much of the first utterance becomes the title.
	TitleMaxRunes = 15
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a chat thread. Values are snapshots; the With* and
// stream methods return modified copies and never touch the receiver's
// message slice.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// NewConversation creates a conversation seeded with the assistant greeting.
func NewConversation() Conversation {
	return Conversation{
		ID:       uuid.New().String(),
		Title:    PlaceholderTitle,
		Messages: []Message{NewAssistantMessage(Greeting)},
	}
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// MessageCount returns the number of messages in the conversation.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// LastMessage returns the trailing message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastActivity returns the timestamp of the newest message.
func (c Conversation) LastActivity() time.Time {
	if last, ok := c.LastMessage(); ok {
		return last.Timestamp
	}
	return time.Time{}
}

// WithMessages returns a copy with the messages appended in order.
func (c Conversation) WithMessages(msgs ...Message) Conversation {
	out := c.Clone()
	out.Messages = append(out.Messages, msgs...)
	return out
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamingIndex returns the index of the trailing streaming assistant
// message, or -1 when the conversation has none.
func (c Conversation) StreamingIndex() int {
	n := len(c.Messages)
	if n == 0 {
		return -1
	}
	last := c.Messages[n-1]
	if last.IsAssistant() && last.IsStreaming {
		return n - 1
	}
	return -1
}

// IsStreaming reports whether a reply is still being streamed.
func (c Conversation) IsStreaming() bool {
	return c.StreamingIndex() >= 0
}

// AppendFragment appends text to the trailing streaming message. Without a
// streaming message the conversation is returned unchanged.
func (c Conversation) AppendFragment(fragment string) Conversation {
	idx := c.StreamingIndex()
	if idx < 0 {
		return c
	}
	out := c.Clone()
	out.Messages[idx].Text += fragment
	return out
}

// FinishStream clears the streaming flag on the trailing message.
func (c Conversation) FinishStream() Conversation {
	return c.endStream(false)
}

// InterruptStream clears the streaming flag and records that the reply was
// cut short.
func (c Conversation) InterruptStream() Conversation {
	return c.endStream(true)
}

func (c Conversation) endStream(interrupted bool) Conversation {
	idx := c.StreamingIndex()
	if idx < 0 {
		return c
	}
	out := c.Clone()
	out.Messages[idx].IsStreaming = false
	if interrupted {
		out.Messages[idx].Interrupted = true
	}
	return out
}

// SetPlaceholderStatus updates the delivery status of the trailing
// streaming placeholder. A failed placeholder also stops streaming.
func (c Conversation) SetPlaceholderStatus(status Status) Conversation {
	idx := c.StreamingIndex()
	if idx < 0 {
		return c
	}
	out := c.Clone()
	out.Messages[idx].Status = status
	if status == StatusFailed {
		out.Messages[idx].IsStreaming = false
	}
	return out
}

// Normalize repairs a snapshot loaded from storage: every streaming flag
// is cleared and marked interrupted, since no stream survives a restart.
func (c Conversation) Normalize() Conversation {
	out := c.Clone()
	for i := range out.Messages {
		if out.Messages[i].IsStreaming {
			out.Messages[i].IsStreaming = false
			out.Messages[i].Interrupted = true
		}
	}
	if out.Title == "" {
		out.Title = PlaceholderTitle
	}
	return out
}

// =============================================================================
// TITLE
// =============================================================================

// WithDerivedTitle sets the title from the first user utterance. It only
// applies while the title is still the placeholder and the conversation
// holds exactly one message, the seeded greeting. The utterance is cut as
// typed, surrounding whitespace included.
func (c Conversation) WithDerivedTitle(text string) Conversation {
	if c.Title != PlaceholderTitle || len(c.Messages) != 1 {
		return c
	}
	if strings.TrimSpace(text) == "" {
		return c
	}
	out := c.Clone()
	out.Title = util.Ellipsize(text, TitleMaxRunes)
	return out
}
