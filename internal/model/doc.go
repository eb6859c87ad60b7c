// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the connection,
// streaming and storage layers.
//
// # Key Types
//
//   - Conversation: A chat thread with a title and an ordered message list
//   - Message: Single message with sender, text, timestamp and streaming flag
//   - Sender: Message author (user or assistant)
//   - Phase: Public connection phase observed by the front end
//
// # Invariants
//
// At most one message in a conversation has IsStreaming set, and when present
// it is the last message. Conversation values are treated as immutable
// snapshots: mutators return a modified copy.
//
// # Usage
//
//	conv := model.NewConversation()
//	conv = conv.WithMessages(model.NewUserMessage("Hello"), model.NewPlaceholder())
//	conv = conv.AppendFragment("Hi")
//	conv = conv.FinishStream()
package model
