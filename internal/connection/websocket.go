// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// =============================================================================
// TRANSPORT INTERFACES
// =============================================================================

// Conn is one open socket. ReadMessage is only ever called from a single
// goroutine; WriteMessage calls are serialized by the Manager. Close may be
// called concurrently with both.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// =============================================================================
// WEBSOCKET DIALER
// =============================================================================

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
	closeGrace              = time.Second
)

// WebSocketDialer dials the backend with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration

	// Header is sent with the opening handshake.
	Header http.Header
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "ws dial %s (status %d)", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "ws dial %s", url)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.conn.Close()
}
