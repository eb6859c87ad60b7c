// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/finchat/internal/model"
)

// newChatServer answers pings with "pong" and every envelope with a short
// streamed reply terminated by an empty frame. The message "bye" makes it
// hang up.
func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame["type"] == "ping" {
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
				continue
			}

			msg, _ := frame["message"].(string)
			if msg == "bye" {
				return
			}
			for _, part := range []string{"echo:", " " + msg, ""} {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	srv := newChatServer(t)
	h := &recordingHandler{}

	m := NewManager(Options{
		URL:               wsURL(srv),
		KeepaliveInterval: 10 * time.Millisecond,
		Logger:            zerolog.Nop(),
	}, h)
	t.Cleanup(m.Stop)

	m.Connect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitFor(ctx, model.PhaseConnected))

	require.NoError(t, m.Transmit("c1", Envelope{Message: "Hello"}))

	require.Eventually(t, func() bool {
		var content []string
		for _, p := range h.messages() {
			if p != "pong" {
				content = append(content, p)
			}
		}
		return len(content) == 3 && content[0] == "echo:" && content[1] == " Hello" && content[2] == ""
	}, 5*time.Second, 5*time.Millisecond)

	// The keepalive gets answered too.
	require.Eventually(t, func() bool {
		for _, p := range h.messages() {
			if p == "pong" {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWebSocketDialer_ServerCloseSchedulesRetry(t *testing.T) {
	srv := newChatServer(t)
	h := &recordingHandler{}

	m := NewManager(Options{
		URL:           wsURL(srv),
		ReconnectBase: time.Hour,
		Logger:        zerolog.Nop(),
	}, h)
	t.Cleanup(m.Stop)

	m.Connect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitFor(ctx, model.PhaseConnected))

	require.NoError(t, m.Transmit("c1", Envelope{Message: "bye"}))

	require.Eventually(t, func() bool { return len(h.losses()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "c1", h.losses()[0].activeID)
	st := m.Status()
	assert.Equal(t, model.PhaseDisconnected, st.Phase)
	assert.Equal(t, 1, st.ReconnectAttempt)
	assert.ErrorIs(t, h.losses()[0].err, ErrConnectionLost)
}

func TestWebSocketDialer_BadURL(t *testing.T) {
	d := &WebSocketDialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "ws://127.0.0.1:1/chat")
	assert.Error(t, err)
}
