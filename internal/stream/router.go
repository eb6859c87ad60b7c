// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/model"
)

// Conversations is the mutation path the router writes through.
type Conversations interface {
	Update(id string, fn func(model.Conversation) model.Conversation) bool
}

// Connection exposes the active-stream pointer owned by the connection.
type Connection interface {
	ActiveConversation() string
	EndStream() string
}

// Stats counts what the router did with inbound traffic.
type Stats struct {
	Fragments uint64
	Ends      uint64
	Acks      uint64
	Dropped   uint64
	Malformed uint64
}

// Router applies inbound frames to the active conversation. It keeps no
// state of its own beyond counters.
type Router struct {
	store  Conversations
	conn   Connection
	format WireFormat
	logger zerolog.Logger

	fragments atomic.Uint64
	ends      atomic.Uint64
	acks      atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
}

// NewRouter creates a router.
func NewRouter(store Conversations, conn Connection, format WireFormat, logger zerolog.Logger) *Router {
	if format == "" {
		format = FormatLegacy
	}
	return &Router{
		store:  store,
		conn:   conn,
		format: format,
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// HandleMessage decodes one inbound payload and applies it.
func (r *Router) HandleMessage(payload string) {
	frame, err := Decode(r.format, payload)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("dropping malformed payload")
		return
	}

	switch frame.Kind {
	case KindAck:
		r.acks.Add(1)
	case KindFragment:
		r.appendFragment(frame.Content)
	case KindEnd:
		r.endStream()
	case KindError:
		r.logger.Warn().Str("error", frame.Content).Msg("backend reported an error")
		if frame.Content != "" {
			r.appendFragment(frame.Content)
		}
		r.endStream()
	}
}

func (r *Router) appendFragment(fragment string) {
	id := r.conn.ActiveConversation()
	if id == "" {
		r.dropped.Add(1)
		r.logger.Debug().Int("bytes", len(fragment)).Msg("dropping fragment, no active conversation")
		return
	}

	if !r.store.Update(id, func(c model.Conversation) model.Conversation {
		return c.AppendFragment(fragment)
	}) {
		r.dropped.Add(1)
		r.logger.Warn().Str("conversation", id).Msg("active conversation no longer exists")
		return
	}
	r.fragments.Add(1)
}

func (r *Router) endStream() {
	id := r.conn.EndStream()
	if id == "" {
		return
	}
	r.ends.Add(1)
	r.store.Update(id, func(c model.Conversation) model.Conversation {
		return c.FinishStream()
	})
}

// HandleConnectionLost forces the reply that was streaming into
// activeID, if any, out of the streaming state.
func (r *Router) HandleConnectionLost(activeID string, err error) {
	if activeID == "" {
		return
	}
	r.logger.Info().Err(err).Str("conversation", activeID).Msg("stream interrupted")
	r.store.Update(activeID, func(c model.Conversation) model.Conversation {
		return c.InterruptStream()
	})
}

// Stats returns a snapshot of the router's counters.
func (r *Router) Stats() Stats {
	return Stats{
		Fragments: r.fragments.Load(),
		Ends:      r.ends.Load(),
		Acks:      r.acks.Load(),
		Dropped:   r.dropped.Load(),
		Malformed: r.malformed.Load(),
	}
}
