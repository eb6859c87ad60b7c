// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/connection"
	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/storage"
	"github.com/morganforge/finchat/internal/stream"
)

// Client wires the streaming core together: inbound traffic flows from the
// connection through the router into the store, outbound requests from the
// gate through the connection.
type Client struct {
	Store  *storage.ConversationStore
	Conn   *connection.Manager
	Router *stream.Router
	Gate   *Gate

	logger zerolog.Logger
}

// NewClient builds a client around an already loaded store.
func NewClient(store *storage.ConversationStore, opts connection.Options, format stream.WireFormat, logger zerolog.Logger) *Client {
	opts.Logger = logger
	mgr := connection.NewManager(opts, nil)
	router := stream.NewRouter(store, mgr, format, logger)
	mgr.SetHandler(router)

	return &Client{
		Store:  store,
		Conn:   mgr,
		Router: router,
		Gate:   NewGate(store, mgr, logger),
		logger: logger,
	}
}

// Start connects and keeps the connection healthy until ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.Conn.Start(ctx)
}

// Send sends text to the conversation currently selected for display.
func (c *Client) Send(text string, opts SendOptions) (string, error) {
	id := c.Store.CurrentID()
	return id, c.Gate.Send(text, id, opts)
}

// Disconnect closes the connection for good: automatic reconnection stops
// and every pending request is marked failed.
func (c *Client) Disconnect() {
	c.Conn.Disconnect()
	if n := c.Gate.FailPending(); n > 0 {
		c.logger.Info().Int("requests", n).Msg("pending requests failed on disconnect")
	}
}

// Close stops the health check and disconnects.
func (c *Client) Close() {
	c.Conn.Stop()
	c.Gate.FailPending()
}

// WaitReply blocks until the trailing message of conversationID stops
// streaming and returns it. Fragments are passed to onFragment as they
// arrive when it is non-nil.
func (c *Client) WaitReply(ctx context.Context, conversationID string, onFragment func(string)) (model.Message, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := c.Store.Subscribe(func(storage.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	seen := 0
	for {
		conv, ok := c.Store.Get(conversationID)
		if !ok {
			return model.Message{}, storage.ErrConversationNotFound
		}
		if last, ok := conv.LastMessage(); ok && last.IsAssistant() {
			if onFragment != nil && len(last.Text) > seen {
				onFragment(last.Text[seen:])
				seen = len(last.Text)
			}
			if !last.IsStreaming {
				return last, nil
			}
		}

		select {
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		case <-changed:
		}
	}
}
