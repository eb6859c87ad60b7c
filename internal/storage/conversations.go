// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the conversation store for finchat.
package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/localstore"
	"github.com/morganforge/finchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = errors.New("conversation not found")

// persistTimeout bounds a single write to the local store.
const persistTimeout = 5 * time.Second

// =============================================================================
// SNAPSHOT TYPE
// =============================================================================

// Snapshot is a consistent, read-only view of the store.
type Snapshot struct {
	Conversations []model.Conversation
	CurrentID     string
	Version       uint64
}

// Find returns the conversation with the given ID.
func (s Snapshot) Find(id string) (model.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore is the single source of truth for conversations.
type ConversationStore struct {
	kv     localstore.Store
	logger zerolog.Logger

	mu            sync.Mutex
	conversations []model.Conversation // most recent first
	currentID     string
	version       uint64
	subscribers   map[int]func(Snapshot)
	nextSubID     int

	// publishMu orders writes and notifications so an older version never
	// overwrites or follows a newer one.
	publishMu        sync.Mutex
	publishedVersion uint64
	lastPersistErr   error
}

// NewConversationStore creates a store backed by kv. The store starts with
// the seeded default conversation until Load is called.
func NewConversationStore(kv localstore.Store, logger zerolog.Logger) *ConversationStore {
	seed := defaultConversations()
	return &ConversationStore{
		kv:            kv,
		logger:        logger.With().Str("component", "storage").Logger(),
		conversations: seed,
		currentID:     seed[0].ID,
		subscribers:   make(map[int]func(Snapshot)),
	}
}

// defaultConversations is the state of a first launch: one conversation
// holding the assistant greeting.
func defaultConversations() []model.Conversation {
	return []model.Conversation{model.NewConversation()}
}

// =============================================================================
// LOAD / PERSIST
// =============================================================================

// Load restores the conversation list from the local store. A missing or
// unparsable value falls back to the seeded default set; only a failure
// of the store itself is returned.
func (s *ConversationStore) Load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, localstore.KeyConversations)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return errors.Wrap(err, "failed to read conversations")
	}

	var loaded []model.Conversation
	if err == nil {
		if jerr := json.Unmarshal([]byte(raw), &loaded); jerr != nil {
			s.logger.Warn().Err(jerr).Msg("stored conversations are corrupt, using defaults")
			loaded = nil
		}
	}

	valid := make([]model.Conversation, 0, len(loaded))
	for _, c := range loaded {
		if c.ID == "" {
			continue
		}
		valid = append(valid, c.Normalize())
	}
	seeded := len(valid) == 0
	if seeded {
		valid = defaultConversations()
	}

	currentID := valid[0].ID
	if stored, err := s.kv.Get(ctx, localstore.KeyCurrentConversation); err == nil {
		for _, c := range valid {
			if c.ID == stored {
				currentID = stored
				break
			}
		}
	}

	s.mu.Lock()
	s.conversations = valid
	s.currentID = currentID
	s.version++
	snap := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("conversations", len(valid)).Bool("seeded", seeded).Msg("conversations loaded")
	// The seed is written so its ID stays stable across runs.
	s.publish(snap, subs, seeded)
	return nil
}

// publish persists snap (when requested) and hands it to subscribers.
// Snapshots older than one already published are skipped.
func (s *ConversationStore) publish(snap Snapshot, subs []func(Snapshot), persist bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if snap.Version <= s.publishedVersion {
		return
	}
	s.publishedVersion = snap.Version

	if persist {
		s.persistLocked(snap)
	}
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *ConversationStore) persistLocked(snap Snapshot) {
	data, err := json.Marshal(snap.Conversations)
	if err != nil {
		s.lastPersistErr = errors.Wrap(err, "failed to encode conversations")
		s.logger.Error().Err(err).Msg("persist failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, localstore.KeyConversations, string(data)); err != nil {
		s.lastPersistErr = err
		s.logger.Error().Err(err).Uint64("version", snap.Version).Msg("persist failed")
		return
	}
	if err := s.kv.Set(ctx, localstore.KeyCurrentConversation, snap.CurrentID); err != nil {
		s.lastPersistErr = err
		s.logger.Error().Err(err).Msg("persist selection failed")
		return
	}
	s.lastPersistErr = nil
}

// PersistError returns the error of the most recent failed write, or nil
// once a later write succeeds.
func (s *ConversationStore) PersistError() error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	return s.lastPersistErr
}

// =============================================================================
// MUTATION
// =============================================================================

// Update applies fn to the conversation with the given id and atomically
// replaces it with the result. It reports whether the conversation exists;
// an unknown id is a no-op. fn must not retain or mutate its argument's
// message slice; the model.Conversation helpers already return copies.
func (s *ConversationStore) Update(id string, fn func(model.Conversation) model.Conversation) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	next := fn(s.conversations[idx].Clone())
	next.ID = id
	s.conversations[idx] = next
	snap, subs := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap, subs, true)
	return true
}

// AppendUserMessage appends a user message to the conversation.
func (s *ConversationStore) AppendUserMessage(id, text string) bool {
	return s.Update(id, func(c model.Conversation) model.Conversation {
		return c.WithMessages(model.NewUserMessage(text))
	})
}

// AppendPlaceholder appends an empty streaming assistant message. A reply
// still streaming in the conversation is interrupted first so that only
// the new placeholder streams.
func (s *ConversationStore) AppendPlaceholder(id string) bool {
	return s.Update(id, func(c model.Conversation) model.Conversation {
		return c.InterruptStream().WithMessages(model.NewPlaceholder())
	})
}

// AppendExchange records a user utterance in one atomic step: the title is
// derived when the conversation is fresh, any stale stream is interrupted,
// then the user message and a streaming placeholder are appended in order.
func (s *ConversationStore) AppendExchange(id, text string) bool {
	return s.Update(id, func(c model.Conversation) model.Conversation {
		return c.WithDerivedTitle(text).
			InterruptStream().
			WithMessages(model.NewUserMessage(text), model.NewPlaceholder())
	})
}

// DeriveTitle sets the title from the first user utterance when the
// conversation still carries the placeholder title and only its greeting.
func (s *ConversationStore) DeriveTitle(id, text string) bool {
	return s.Update(id, func(c model.Conversation) model.Conversation {
		return c.WithDerivedTitle(text)
	})
}

// NewConversation creates a seeded conversation, prepends it and makes it
// current. It returns the new conversation's ID.
func (s *ConversationStore) NewConversation() string {
	conv := model.NewConversation()

	s.mu.Lock()
	s.conversations = append([]model.Conversation{conv}, s.conversations...)
	s.currentID = conv.ID
	snap, subs := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap, subs, true)
	return conv.ID
}

// Select makes the conversation current for display. It does not affect
// which conversation receives streamed replies.
func (s *ConversationStore) Select(id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return errors.Wrapf(ErrConversationNotFound, "select %q", id)
	}
	if s.currentID == id {
		s.mu.Unlock()
		return nil
	}
	s.currentID = id
	s.version++
	snap := s.snapshotLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.publish(snap, subs, true)
	return nil
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Get returns a copy of the conversation with the given ID.
func (s *ConversationStore) Get(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Conversation{}, false
	}
	return s.conversations[idx].Clone(), true
}

// Current returns the conversation selected for display.
func (s *ConversationStore) Current() model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(s.currentID); idx >= 0 {
		return s.conversations[idx].Clone()
	}
	return s.conversations[0].Clone()
}

// CurrentID returns the ID of the conversation selected for display.
func (s *ConversationStore) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// List returns copies of all conversations, most recent first.
func (s *ConversationStore) List() []model.Conversation {
	return s.Snapshot().Conversations
}

// Snapshot returns a consistent copy of the whole store.
func (s *ConversationStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes the subscription. fn runs on the mutating
// goroutine and must not call the store's mutators. Under concurrent
// mutation a subscriber may skip intermediate versions but never sees
// them out of order.
func (s *ConversationStore) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *ConversationStore) indexLocked(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationStore) commitLocked() (Snapshot, []func(Snapshot)) {
	s.version++
	return s.snapshotLocked(), s.subscribersLocked()
}

func (s *ConversationStore) snapshotLocked() Snapshot {
	convs := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		convs[i] = c.Clone()
	}
	return Snapshot{Conversations: convs, CurrentID: s.currentID, Version: s.version}
}

func (s *ConversationStore) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}
