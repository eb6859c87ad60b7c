// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the entry point the front end uses to talk to the
// assistant. Gate implements the send contract; Client wires the store,
// the connection and the stream router together.
package chat

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/connection"
	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBlankInput is returned for empty or whitespace-only input.
	ErrBlankInput = errors.New("blank input")

	// ErrNothingPending is returned by Retry when the conversation has no
	// unsent request.
	ErrNothingPending = errors.New("no pending request")
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is the part of the conversation store the gate needs.
type Store interface {
	Get(id string) (model.Conversation, bool)
	Update(id string, fn func(model.Conversation) model.Conversation) bool
	AppendExchange(id, text string) bool
}

// Transport is the part of the connection manager the gate needs.
type Transport interface {
	Transmit(conversationID string, env connection.Envelope) error
	ActiveConversation() string
	Connect()
}

// SendOptions carries per-request flags.
type SendOptions struct {
	// UseRAG asks the backend to ground the reply in uploaded documents.
	UseRAG bool
}

type pendingSend struct {
	text string
	opts SendOptions
}

// =============================================================================
// GATE
// =============================================================================

// Gate applies a user utterance locally before transmitting it. When
// transmission fails the local placeholder stays, marked pending, until
// Retry sends it or Abandon gives up on it.
type Gate struct {
	store     Store
	transport Transport
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingSend
}

// NewGate creates a gate.
func NewGate(store Store, transport Transport, logger zerolog.Logger) *Gate {
	return &Gate{
		store:     store,
		transport: transport,
		logger:    logger.With().Str("component", "chat").Logger(),
		pending:   make(map[string]pendingSend),
	}
}

// Send records text in conversationID and requests a reply. The user
// message and a streaming placeholder are appended even when the
// connection is down; in that case a reconnect is triggered and the
// transport error (connection.ErrNotConnected or ErrConnectionLost) is
// returned so the caller can offer Retry.
func (g *Gate) Send(text, conversationID string, opts SendOptions) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankInput
	}
	if _, ok := g.store.Get(conversationID); !ok {
		return errors.Wrapf(storage.ErrConversationNotFound, "send to %q", conversationID)
	}

	// Only one reply streams at a time: a reply still streaming elsewhere
	// is cut off before this conversation takes over.
	if prev := g.transport.ActiveConversation(); prev != "" && prev != conversationID {
		g.store.Update(prev, func(c model.Conversation) model.Conversation {
			return c.InterruptStream()
		})
		g.logger.Debug().Str("previous", prev).Str("conversation", conversationID).Msg("superseded active stream")
	}

	g.store.AppendExchange(conversationID, text)

	// A newer send replaces whatever was pending here; its placeholder was
	// interrupted by AppendExchange.
	g.mu.Lock()
	delete(g.pending, conversationID)
	g.mu.Unlock()

	return g.transmit(conversationID, pendingSend{text: text, opts: opts}, false)
}

// Retry re-sends the pending request of conversationID.
func (g *Gate) Retry(conversationID string) error {
	g.mu.Lock()
	p, ok := g.pending[conversationID]
	g.mu.Unlock()
	if !ok {
		return ErrNothingPending
	}

	conv, exists := g.store.Get(conversationID)
	if !exists || !placeholderPending(conv) {
		g.mu.Lock()
		delete(g.pending, conversationID)
		g.mu.Unlock()
		return ErrNothingPending
	}

	return g.transmit(conversationID, p, true)
}

// Abandon gives up on the pending request of conversationID: its
// placeholder is marked failed and stops streaming.
func (g *Gate) Abandon(conversationID string) error {
	g.mu.Lock()
	_, ok := g.pending[conversationID]
	delete(g.pending, conversationID)
	g.mu.Unlock()
	if !ok {
		return ErrNothingPending
	}

	g.store.Update(conversationID, func(c model.Conversation) model.Conversation {
		return c.SetPlaceholderStatus(model.StatusFailed)
	})
	g.logger.Info().Str("conversation", conversationID).Msg("pending request abandoned")
	return nil
}

// FailPending abandons every pending request. It is the compensation for
// a definitive failure such as an explicit disconnect.
func (g *Gate) FailPending() int {
	ids := g.Pending()
	for _, id := range ids {
		g.Abandon(id)
	}
	return len(ids)
}

// Pending returns the conversations with an unsent request.
func (g *Gate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

// IsPending reports whether conversationID has an unsent request.
func (g *Gate) IsPending(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[conversationID]
	return ok
}

func (g *Gate) transmit(conversationID string, p pendingSend, retry bool) error {
	env := connection.Envelope{Message: p.text, UseRAG: p.opts.UseRAG}

	if err := g.transport.Transmit(conversationID, env); err != nil {
		g.mu.Lock()
		g.pending[conversationID] = p
		g.mu.Unlock()

		g.store.Update(conversationID, func(c model.Conversation) model.Conversation {
			return c.SetPlaceholderStatus(model.StatusPending)
		})
		g.logger.Warn().Err(err).Str("conversation", conversationID).Msg("send failed, reconnecting")
		g.transport.Connect()
		return errors.Wrap(err, "send")
	}

	if !retry {
		return nil
	}

	g.mu.Lock()
	delete(g.pending, conversationID)
	g.mu.Unlock()

	g.store.Update(conversationID, func(c model.Conversation) model.Conversation {
		if placeholderPending(c) {
			return c.SetPlaceholderStatus(model.StatusSent)
		}
		return c
	})
	g.logger.Info().Str("conversation", conversationID).Msg("pending request sent")
	return nil
}

func placeholderPending(c model.Conversation) bool {
	idx := c.StreamingIndex()
	return idx >= 0 && c.Messages[idx].Status == model.StatusPending
}
