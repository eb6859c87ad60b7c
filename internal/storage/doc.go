// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the conversation store for finchat.
//
// ConversationStore is the single owner of conversation and message data.
// All mutation goes through Update, which applies a pure transformation to
// a snapshot and swaps the result in atomically. Every successful mutation
// persists the full conversation list to the local key/value store under
// localstore.KeyConversations.
//
// # Usage
//
//	store := storage.NewConversationStore(kv, logger)
//	if err := store.Load(ctx); err != nil { ... }
//
//	id := store.NewConversation()
//	store.AppendExchange(id, "Hello")
//	store.Update(id, func(c model.Conversation) model.Conversation {
//	    return c.AppendFragment("Hi")
//	})
//
// Subscribers registered with Subscribe receive a Snapshot after every
// mutation, in mutation order.
package storage
