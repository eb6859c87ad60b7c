// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/morganforge/finchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConnected is returned by Send when the socket is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionLost is reported to the Handler when an open socket
	// closes or fails without the client asking for it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosedByClient is reported to the Handler when Disconnect or
	// Reconnect tears down the socket.
	ErrClosedByClient = errors.New("connection closed by client")
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Envelope is the outbound request for one assistant reply.
type Envelope struct {
	Message string `json:"message"`
	UseRAG  bool   `json:"use_rag"`
}

// keepalive is the periodic ping frame.
type keepalive struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// =============================================================================
// HANDLER & STATUS
// =============================================================================

// Handler receives inbound traffic. Both methods are called without the
// Manager's lock held, so they may call back into the Manager.
type Handler interface {
	// HandleMessage is called once per inbound payload, in arrival order.
	HandleMessage(payload string)

	// HandleConnectionLost is called after a socket went away. activeID is
	// the conversation that was awaiting a reply, or "" if none was.
	HandleConnectionLost(activeID string, err error)
}

// Status is a point-in-time view of the connection.
type Status struct {
	Phase                model.Phase
	ActiveConversationID string
	Typing               bool
	ReconnectAttempt     int
	RetryDelay           time.Duration // last scheduled delay, zero once connected
	NextRetry            time.Time
	LastError            error
	AutoReconnect        bool
}

// state is the arbiter's internal state; Phase is its public projection.
type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateAwaitingRetry
	stateClosing
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateAwaitingRetry:
		return "awaiting_retry"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

func (s state) phase() model.Phase {
	switch s {
	case stateConnecting:
		return model.PhaseConnecting
	case stateConnected:
		return model.PhaseConnected
	case stateClosing:
		return model.PhaseClosing
	default:
		return model.PhaseDisconnected
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Manager. Zero durations take the defaults below.
type Options struct {
	URL                 string
	KeepaliveInterval   time.Duration
	HealthCheckInterval time.Duration
	ReconnectBase       time.Duration
	ReconnectCap        time.Duration
	DialTimeout         time.Duration

	Dialer Dialer
	Logger zerolog.Logger
}

const (
	DefaultKeepaliveInterval   = 20 * time.Second
	DefaultHealthCheckInterval = 20 * time.Second
	DefaultReconnectBase       = time.Second
	DefaultReconnectCap        = 15 * time.Second
	DefaultDialTimeout         = 10 * time.Second
)

func (o *Options) setDefaults() {
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = DefaultReconnectBase
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = DefaultReconnectCap
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &WebSocketDialer{HandshakeTimeout: o.DialTimeout}
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the connection state. All state lives behind mu; socket
// writes are additionally serialized by writeMu.
type Manager struct {
	opts    Options
	handler Handler
	logger  zerolog.Logger

	mu            sync.Mutex
	state         state
	generation    uint64
	conn          Conn
	stopKeepalive chan struct{}
	autoReconnect bool
	attempt       int
	retryTimer    *time.Timer
	retrySeq      uint64
	retryDelay    time.Duration
	nextRetry     time.Time
	lastErr       error
	activeID      string
	typing        bool
	changed       chan struct{}
	healthCancel  context.CancelFunc

	writeMu sync.Mutex

	observerMu  sync.Mutex
	observers   map[int]func(Status)
	nextObserve int
}

// NewManager creates a Manager that routes inbound traffic to handler.
// The handler may be nil and set later with SetHandler, before Connect.
func NewManager(opts Options, handler Handler) *Manager {
	opts.setDefaults()
	return &Manager{
		opts:      opts,
		handler:   handler,
		logger:    opts.Logger.With().Str("component", "connection").Logger(),
		changed:   make(chan struct{}),
		observers: make(map[int]func(Status)),
	}
}

// SetHandler replaces the inbound handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// URL returns the backend address.
func (m *Manager) URL() string {
	return m.opts.URL
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start connects and runs the passive health check until ctx is done or
// Stop is called. Cancelling ctx disconnects.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.healthCancel != nil {
		m.healthCancel()
	}
	m.healthCancel = cancel
	m.mu.Unlock()

	m.Connect()
	go m.healthLoop(ctx)
}

// Stop ends the health check and disconnects.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.healthCancel
	m.healthCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.Disconnect()
}

func (m *Manager) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Disconnect()
			return
		case <-ticker.C:
			m.mu.Lock()
			stale := m.autoReconnect && m.state != stateConnected && m.state != stateConnecting
			st := m.state
			m.mu.Unlock()
			if stale {
				m.logger.Info().Str("state", st.String()).Msg("health check found connection down, reconnecting")
				m.Connect()
			}
		}
	}
}

// Connect opens the connection in the background. It is a no-op while a
// socket is open or being opened. A pending retry is replaced by an
// immediate attempt. Connect re-enables automatic reconnection after
// Disconnect.
func (m *Manager) Connect() {
	m.mu.Lock()
	m.autoReconnect = true
	gen, ok := m.beginConnectLocked()
	m.mu.Unlock()

	if ok {
		m.publish()
		go m.dial(gen)
	}
}

// Resume is the hook for the application returning to the foreground. An
// open or opening connection is left alone; otherwise it reconnects now
// instead of waiting for the retry timer.
func (m *Manager) Resume() {
	m.mu.Lock()
	if !m.autoReconnect || m.state == stateConnected || m.state == stateConnecting {
		m.mu.Unlock()
		return
	}
	gen, ok := m.beginConnectLocked()
	m.mu.Unlock()

	if ok {
		m.logger.Info().Msg("resumed with connection down, reconnecting")
		m.publish()
		go m.dial(gen)
	}
}

// Reconnect is the manual retry affordance: it tears down any socket,
// resets the attempt counter and connects immediately.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.autoReconnect = true
	m.attempt = 0
	m.retryDelay = 0
	activeID, h := m.teardownLocked(nil)
	gen, ok := m.beginConnectLocked()
	m.mu.Unlock()

	m.logger.Info().Msg("manual reconnect")
	m.publish()
	if h != nil {
		h.HandleConnectionLost(activeID, ErrClosedByClient)
	}
	if ok {
		go m.dial(gen)
	}
}

// Disconnect closes the socket, cancels keepalive and any pending retry,
// and suppresses automatic reconnection until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.autoReconnect = false
	if m.state == stateIdle && m.conn == nil && m.retryTimer == nil {
		m.mu.Unlock()
		return
	}
	m.state = stateClosing
	m.signalLocked()
	m.mu.Unlock()
	m.publish()

	m.mu.Lock()
	activeID, h := m.teardownLocked(nil)
	m.mu.Unlock()

	m.logger.Info().Msg("disconnected")
	m.publish()
	if h != nil {
		h.HandleConnectionLost(activeID, ErrClosedByClient)
	}
}

// beginConnectLocked moves to connecting unless a socket is open or being
// opened. It returns the generation the new dial belongs to.
func (m *Manager) beginConnectLocked() (uint64, bool) {
	switch m.state {
	case stateConnecting, stateConnected, stateClosing:
		return 0, false
	}
	m.cancelRetryLocked()
	m.generation++
	m.state = stateConnecting
	m.lastErr = nil
	m.signalLocked()
	return m.generation, true
}

// teardownLocked invalidates the current generation, stops timers, closes
// the socket and clears the active stream. It returns the conversation that
// was awaiting a reply together with the handler to tell about it.
func (m *Manager) teardownLocked(cause error) (string, Handler) {
	m.generation++
	m.cancelRetryLocked()
	if m.stopKeepalive != nil {
		close(m.stopKeepalive)
		m.stopKeepalive = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("close failed")
		}
		m.conn = nil
	}
	activeID := m.activeID
	m.activeID = ""
	m.typing = false
	m.state = stateIdle
	if cause != nil {
		m.lastErr = cause
	}
	m.signalLocked()
	return activeID, m.handler
}

func (m *Manager) cancelRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retrySeq++
	m.nextRetry = time.Time{}
}

// =============================================================================
// DIAL / READ / KEEPALIVE
// =============================================================================

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
	cancel()

	m.mu.Lock()
	if gen != m.generation || m.state != stateConnecting {
		// Superseded by Disconnect or Reconnect while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.state = stateIdle
		m.lastErr = err
		m.logger.Warn().Err(err).Str("url", m.opts.URL).Msg("connect failed")
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.publish()
		return
	}

	m.conn = conn
	m.state = stateConnected
	m.attempt = 0
	m.retryDelay = 0
	m.lastErr = nil
	stop := make(chan struct{})
	m.stopKeepalive = stop
	m.signalLocked()
	m.mu.Unlock()

	m.logger.Info().Str("url", m.opts.URL).Uint64("generation", gen).Msg("connected")
	m.publish()

	go m.readLoop(gen, conn)
	go m.keepaliveLoop(gen, conn, stop)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.generation
		h := m.handler
		m.mu.Unlock()
		if !current {
			return
		}
		if h != nil {
			h.HandleMessage(payload)
		}
	}
}

func (m *Manager) keepaliveLoop(gen uint64, conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			data, _ := json.Marshal(keepalive{Type: "ping", T: now.UnixMilli()})
			if err := m.write(gen, conn, data); err != nil {
				m.logger.Debug().Err(err).Msg("keepalive failed")
				return
			}
		}
	}
}

// handleDrop routes every unrequested close or error to the same recovery
// path: clear the active stream, tell the handler, schedule a retry.
func (m *Manager) handleDrop(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	activeID, h := m.teardownLocked(errors.Wrap(ErrConnectionLost, cause.Error()))
	m.logger.Warn().Err(cause).Str("active", activeID).Msg("connection dropped")
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.publish()
	if h != nil {
		h.HandleConnectionLost(activeID, ErrConnectionLost)
	}
}

// scheduleReconnectLocked arms the single retry timer. Overlapping calls,
// calls while a socket is open or opening, and calls after Disconnect are
// no-ops.
func (m *Manager) scheduleReconnectLocked() {
	if !m.autoReconnect || m.retryTimer != nil {
		return
	}
	if m.state != stateIdle {
		return
	}

	m.attempt++
	delay := Backoff(m.attempt, m.opts.ReconnectBase, m.opts.ReconnectCap)
	m.retrySeq++
	seq := m.retrySeq
	m.state = stateAwaitingRetry
	m.retryDelay = delay
	m.nextRetry = time.Now().Add(delay)
	m.retryTimer = time.AfterFunc(delay, func() { m.retryFired(seq) })
	m.signalLocked()

	m.logger.Info().Int("attempt", m.attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (m *Manager) retryFired(seq uint64) {
	m.mu.Lock()
	if seq != m.retrySeq || m.state != stateAwaitingRetry {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.state = stateIdle
	gen, ok := m.beginConnectLocked()
	m.mu.Unlock()

	if ok {
		m.publish()
		go m.dial(gen)
	}
}

// =============================================================================
// SEND
// =============================================================================

// Send transmits env. It fails with ErrNotConnected unless the socket is
// open; delivery is not acknowledged beyond the write.
func (m *Manager) Send(env Envelope) error {
	m.mu.Lock()
	if m.state != stateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	gen, conn := m.generation, m.conn
	m.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return m.write(gen, conn, data)
}

// Transmit sends env as the request for conversationID's next reply. The
// conversation becomes active before the write, so the first fragment can
// never arrive ahead of it, and the typing indicator is raised. A failed
// write restores the previous active conversation.
func (m *Manager) Transmit(conversationID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}

	m.mu.Lock()
	if m.state != stateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	gen, conn := m.generation, m.conn
	prevActive, prevTyping := m.activeID, m.typing
	m.activeID = conversationID
	m.typing = true
	m.signalLocked()
	m.mu.Unlock()
	m.publish()

	if err := m.write(gen, conn, data); err != nil {
		m.mu.Lock()
		if gen == m.generation && m.activeID == conversationID {
			m.activeID = prevActive
			m.typing = prevTyping
			m.signalLocked()
		}
		m.mu.Unlock()
		m.publish()
		return err
	}
	return nil
}

// write serializes socket writes. A failed write closes the socket so the
// read goroutine runs the drop path.
func (m *Manager) write(gen uint64, conn Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	current := gen == m.generation && m.state == stateConnected
	m.mu.Unlock()
	if !current {
		return ErrNotConnected
	}

	if err := conn.WriteMessage(data); err != nil {
		conn.Close()
		return errors.Wrap(ErrConnectionLost, err.Error())
	}
	return nil
}

// =============================================================================
// ACTIVE STREAM
// =============================================================================

// ActiveConversation returns the conversation awaiting a reply, or "".
func (m *Manager) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// EndStream clears the active conversation and the typing indicator,
// returning the conversation that was active.
func (m *Manager) EndStream() string {
	m.mu.Lock()
	id := m.activeID
	changed := id != "" || m.typing
	m.activeID = ""
	m.typing = false
	if changed {
		m.signalLocked()
	}
	m.mu.Unlock()

	if changed {
		m.publish()
	}
	return id
}

// =============================================================================
// STATUS
// =============================================================================

// Phase returns the public connection phase. It never blocks on I/O.
func (m *Manager) Phase() model.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.phase()
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		Phase:                m.state.phase(),
		ActiveConversationID: m.activeID,
		Typing:               m.typing,
		ReconnectAttempt:     m.attempt,
		RetryDelay:           m.retryDelay,
		NextRetry:            m.nextRetry,
		LastError:            m.lastErr,
		AutoReconnect:        m.autoReconnect,
	}
}

// OnStatus registers fn to be called with the latest status after every
// change. The returned function removes the observer. fn must not call
// methods that change the connection state.
func (m *Manager) OnStatus(fn func(Status)) func() {
	m.observerMu.Lock()
	id := m.nextObserve
	m.nextObserve++
	m.observers[id] = fn
	m.observerMu.Unlock()

	return func() {
		m.observerMu.Lock()
		delete(m.observers, id)
		m.observerMu.Unlock()
	}
}

// publish hands the current status to observers. The status is read under
// observerMu so observers never see an older status after a newer one.
func (m *Manager) publish() {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	if len(m.observers) == 0 {
		return
	}
	st := m.Status()
	for _, fn := range m.observers {
		fn(st)
	}
}

// signalLocked wakes everyone blocked in WaitFor.
func (m *Manager) signalLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// WaitFor blocks until the phase equals want or ctx is done.
func (m *Manager) WaitFor(ctx context.Context, want model.Phase) error {
	for {
		m.mu.Lock()
		if m.state.phase() == want {
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
