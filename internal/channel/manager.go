package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second

	maxMessageSize = 16 * 1024

	reconnectInitialDelay = 500 * time.Millisecond
	reconnectMaxDelay     = 5 * time.Second

	// Connect errors arrive in bursts while reconnecting; surface at most one
	// notice per window so the UI is not spammed.
	errorNoticeWindow = 1500 * time.Millisecond

	// After this many surfaced failures the notice switches from a generic
	// "connecting" message to an explicit unreachable one.
	unreachableThreshold = 6
)

// ErrNotConnected is returned by Send while the channel is down. There is no
// outbound retry queue: the intent is dropped and the caller owns resetting
// its lock state on disconnect.
var ErrNotConnected = errors.New("channel: not connected")

// Handler receives the raw payload of one named inbound event.
type Handler func(data json.RawMessage)

// Status describes a connection lifecycle change. Notice, when non-empty, is
// a user-facing message.
type Status struct {
	Connected    bool
	ConnectionID string
	Notice       string
}

// envelope is the wire format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Config holds the channel manager's tunables.
type Config struct {
	URL    string
	Dialer *websocket.Dialer
}

// Manager owns the single bidirectional event channel: dial/reconnect
// lifecycle, the inbound dispatch registry, and the outbound send primitive.
// Reconnection is automatic and unlimited with capped backoff. The connection
// identity handed out by the server changes on every reconnect; callers must
// treat it as a new identity.
type Manager struct {
	url      string
	dialer   *websocket.Dialer
	clock    clockwork.Clock
	handlers map[string]Handler
	onStatus func(Status)

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	connID    string

	writeMu sync.Mutex

	lastNoticeAt time.Time
	noticeCount  int
}

func NewManager(cfg Config, clock clockwork.Clock) *Manager {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Manager{
		url:      cfg.URL,
		dialer:   dialer,
		clock:    clock,
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for a named inbound event. Registration must
// finish before Run starts; the registry is not mutated afterwards.
func (m *Manager) On(event string, handler Handler) {
	m.handlers[event] = handler
}

// OnStatus registers the lifecycle callback. Must be set before Run.
func (m *Manager) OnStatus(fn func(Status)) {
	m.onStatus = fn
}

// Connected reports whether the channel is currently up.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ConnectionID returns the identity the server assigned on the current
// connection, or empty while disconnected.
func (m *Manager) ConnectionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connID
}

// Send marshals payload and writes one named event. Intents sent while
// disconnected are dropped with ErrNotConnected.
func (m *Manager) Send(event string, payload any) error {
	m.mu.RLock()
	conn := m.conn
	connected := m.connected
	m.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Run dials and services the channel until ctx is cancelled, redialing
// forever with capped backoff.
func (m *Manager) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialDelay
	bo.MaxInterval = reconnectMaxDelay
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleConnectError(err)
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(bo.NextBackOff()):
			}
			continue
		}

		bo.Reset()
		m.serve(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.connected = false
		m.connID = ""
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		m.emitStatus(Status{Connected: false, Notice: "Disconnected. Retrying..."})
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(bo.NextBackOff()):
		}
	}
}

// serve reads one established connection until it drops.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go m.pingLoop(pingCtx, conn)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("channel read failed")
			}
			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := m.clock.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// connectedPayload is the server's handshake frame carrying the connection
// identity. Consumed here rather than dispatched; the session compares turn
// ownership against ConnectionID.
type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

func (m *Manager) dispatch(env envelope) {
	if env.Event == "connected" {
		var p connectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Msg("malformed handshake frame")
			return
		}
		m.mu.Lock()
		m.connected = true
		m.connID = p.ConnectionID
		m.mu.Unlock()
		m.noticeCount = 0
		log.Info().Str("connection_id", p.ConnectionID).Msg("channel connected")
		m.emitStatus(Status{Connected: true, ConnectionID: p.ConnectionID})
		return
	}

	handler, ok := m.handlers[env.Event]
	if !ok {
		log.Debug().Str("event", env.Event).Msg("no handler for inbound event")
		return
	}
	handler(env.Data)
}

// handleConnectError rate-limits user-facing notices during reconnection
// storms and escalates to an unreachable message after repeated failures.
func (m *Manager) handleConnectError(err error) {
	log.Debug().Err(err).Str("url", m.url).Msg("channel dial failed")

	now := m.clock.Now()
	if now.Sub(m.lastNoticeAt) <= errorNoticeWindow {
		return
	}
	m.lastNoticeAt = now
	m.noticeCount++

	notice := "Connecting..."
	if m.noticeCount >= unreachableThreshold {
		notice = fmt.Sprintf("Cannot reach server at %s", m.url)
	}
	m.emitStatus(Status{Connected: false, Notice: notice})
}

func (m *Manager) emitStatus(s Status) {
	if m.onStatus != nil {
		m.onStatus(s)
	}
}
