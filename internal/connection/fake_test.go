// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"context"
	"errors"
	"io"
	"sync"
)

// fakeConn is an in-memory socket driven by the test.
type fakeConn struct {
	inbound chan string
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  []string
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case <-c.closed:
		return "", io.EOF
	default:
	}
	select {
	case <-c.closed:
		return "", io.EOF
	case msg := <-c.inbound:
		return msg, nil
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// dialResult is what the next Dial call returns.
type dialResult struct {
	conn Conn
	err  error
}

// fakeDialer hands out queued results. With block set, Dial waits for the
// test to push a result; otherwise an empty queue fails immediately.
type fakeDialer struct {
	results chan dialResult
	block   bool

	mu    sync.Mutex
	dials int
}

func newFakeDialer(block bool) *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 64), block: block}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	if d.block {
		select {
		case r := <-d.results:
			return r.conn, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case r := <-d.results:
		return r.conn, r.err
	default:
		return nil, errors.New("connection refused")
	}
}

func (d *fakeDialer) succeed(conn Conn) { d.results <- dialResult{conn: conn} }

func (d *fakeDialer) fail(err error) { d.results <- dialResult{err: err} }

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingHandler captures inbound traffic.
type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
	lost     []lostEvent
}

type lostEvent struct {
	activeID string
	err      error
}

func (h *recordingHandler) HandleMessage(payload string) {
	h.mu.Lock()
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
}

func (h *recordingHandler) HandleConnectionLost(activeID string, err error) {
	h.mu.Lock()
	h.lost = append(h.lost, lostEvent{activeID: activeID, err: err})
	h.mu.Unlock()
}

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.payloads))
	copy(out, h.payloads)
	return out
}

func (h *recordingHandler) losses() []lostEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]lostEvent, len(h.lost))
	copy(out, h.lost)
	return out
}
