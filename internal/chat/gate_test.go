// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/finchat/internal/connection"
	"github.com/morganforge/finchat/internal/localstore"
	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/storage"
)

// fakeTransport records transmissions and fails while offline.
type fakeTransport struct {
	mu       sync.Mutex
	online   bool
	active   string
	sent     []connection.Envelope
	connects int
}

func (f *fakeTransport) Transmit(id string, env connection.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online {
		return connection.ErrNotConnected
	}
	f.active = id
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) ActiveConversation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeTransport) setOnline(v bool) {
	f.mu.Lock()
	f.online = v
	f.mu.Unlock()
}

func newGateFixture(t *testing.T, online bool) (*Gate, *storage.ConversationStore, *fakeTransport) {
	t.Helper()
	store := storage.NewConversationStore(localstore.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, store.Load(context.Background()))
	transport := &fakeTransport{online: online}
	return NewGate(store, transport, zerolog.Nop()), store, transport
}

func trailing(t *testing.T, store *storage.ConversationStore, id string) model.Message {
	t.Helper()
	conv, ok := store.Get(id)
	require.True(t, ok)
	msg, ok := conv.LastMessage()
	require.True(t, ok)
	return msg
}

func TestGate_RejectsBlankInput(t *testing.T) {
	gate, store, transport := newGateFixture(t, true)
	id := store.CurrentID()
	before := store.Snapshot().Version

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, gate.Send(text, id, SendOptions{}), ErrBlankInput)
	}
	assert.Equal(t, before, store.Snapshot().Version)
	assert.Empty(t, transport.sent)
}

func TestGate_UnknownConversation(t *testing.T) {
	gate, _, _ := newGateFixture(t, true)
	err := gate.Send("Hello", "missing", SendOptions{})
	assert.True(t, errors.Is(err, storage.ErrConversationNotFound))
}

func TestGate_SendOnline(t *testing.T) {
	gate, store, transport := newGateFixture(t, true)
	id := store.NewConversation()

	require.NoError(t, gate.Send("What is the current prime rate?", id, SendOptions{UseRAG: true}))

	conv, _ := store.Get(id)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "What is the cur...", conv.Title)
	assert.Equal(t, model.SenderUser, conv.Messages[1].Sender)
	assert.True(t, conv.Messages[2].IsStreaming)
	assert.Equal(t, model.StatusSent, conv.Messages[2].Status)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, connection.Envelope{Message: "What is the current prime rate?", UseRAG: true}, transport.sent[0])
	assert.Equal(t, id, transport.ActiveConversation())
	assert.False(t, gate.IsPending(id))
}

func TestGate_SendOfflineIsOptimistic(t *testing.T) {
	gate, store, transport := newGateFixture(t, false)
	id := store.CurrentID()

	err := gate.Send("Hello", id, SendOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, connection.ErrNotConnected)

	msg := trailing(t, store, id)
	assert.True(t, msg.IsStreaming, "placeholder stays while pending")
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.True(t, gate.IsPending(id))
	assert.Equal(t, 1, transport.connects)
	assert.Equal(t, []string{id}, gate.Pending())
}

func TestGate_RetryAfterReconnect(t *testing.T) {
	gate, store, transport := newGateFixture(t, false)
	id := store.CurrentID()
	require.Error(t, gate.Send("Hello", id, SendOptions{UseRAG: true}))

	// Still offline: retry fails and stays pending.
	require.Error(t, gate.Retry(id))
	assert.True(t, gate.IsPending(id))

	transport.setOnline(true)
	require.NoError(t, gate.Retry(id))

	msg := trailing(t, store, id)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.True(t, msg.IsStreaming)
	assert.False(t, gate.IsPending(id))
	require.Len(t, transport.sent, 1)
	assert.Equal(t, connection.Envelope{Message: "Hello", UseRAG: true}, transport.sent[0])

	assert.ErrorIs(t, gate.Retry(id), ErrNothingPending)
}

func TestGate_Abandon(t *testing.T) {
	gate, store, _ := newGateFixture(t, false)
	id := store.CurrentID()
	require.Error(t, gate.Send("Hello", id, SendOptions{}))

	require.NoError(t, gate.Abandon(id))
	msg := trailing(t, store, id)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.False(t, msg.IsStreaming)
	assert.False(t, gate.IsPending(id))

	assert.ErrorIs(t, gate.Abandon(id), ErrNothingPending)
	assert.ErrorIs(t, gate.Retry(id), ErrNothingPending)
}

func TestGate_FailPending(t *testing.T) {
	gate, store, _ := newGateFixture(t, false)
	first := store.CurrentID()
	second := store.NewConversation()
	require.Error(t, gate.Send("one", first, SendOptions{}))
	require.Error(t, gate.Send("two", second, SendOptions{}))

	assert.Equal(t, 2, gate.FailPending())
	assert.Empty(t, gate.Pending())
	assert.Equal(t, model.StatusFailed, trailing(t, store, first).Status)
	assert.Equal(t, model.StatusFailed, trailing(t, store, second).Status)
}

func TestGate_NewSendReplacesPending(t *testing.T) {
	gate, store, transport := newGateFixture(t, false)
	id := store.CurrentID()
	require.Error(t, gate.Send("first", id, SendOptions{}))

	transport.setOnline(true)
	require.NoError(t, gate.Send("second", id, SendOptions{}))
	assert.False(t, gate.IsPending(id))

	conv, _ := store.Get(id)
	require.Len(t, conv.Messages, 5)
	assert.True(t, conv.Messages[2].Interrupted)
	assert.False(t, conv.Messages[2].IsStreaming)
	assert.True(t, conv.Messages[4].IsStreaming)
}

func TestGate_SupersedesOtherActiveStream(t *testing.T) {
	gate, store, transport := newGateFixture(t, true)
	first := store.CurrentID()
	second := store.NewConversation()

	require.NoError(t, gate.Send("one", first, SendOptions{}))
	require.NoError(t, gate.Send("two", second, SendOptions{}))

	assert.False(t, trailing(t, store, first).IsStreaming)
	assert.True(t, trailing(t, store, first).Interrupted)
	assert.True(t, trailing(t, store, second).IsStreaming)
	assert.Equal(t, second, transport.ActiveConversation())
}
