// Package conn owns the streaming-transport lifecycle: dialing, frame
// dispatch, and reconnection after any close.
package conn

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatsync/pkg/session"
	"chatsync/pkg/wire"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler consumes the raw payload of one inbound frame. Handlers run
// synchronously on the read loop, so inbound frames are processed strictly
// in delivery order.
type Handler func(payload []byte)

// Config tunes the transport. Zero values fall back to defaults.
type Config struct {
	// BaseURL is the websocket endpoint, e.g. "wss://host". The bearer
	// token is appended as a path segment; there is no handshake frame.
	BaseURL string

	// InitialBackoff is the delay before the first reconnect attempt
	// (default 3s). Subsequent attempts back off exponentially with
	// jitter up to MaxBackoff (default 30s).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxAttempts caps consecutive failed reconnects; 0 retries forever
	// while the session stays valid.
	MaxAttempts int

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 3 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Manager maintains at most one websocket connection for the session.
type Manager struct {
	cfg     Config
	session *session.Session
	log     *zap.SugaredLogger
	dialer  *websocket.Dialer

	mu               sync.Mutex
	ws               *websocket.Conn
	state            State
	stopping         bool
	reconnectPending bool
	attempt          int

	writeMu sync.Mutex

	handlers map[string]Handler
}

// NewManager creates a transport manager. Register handlers before calling
// Connect.
func NewManager(cfg Config, sess *session.Session, log *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		session:  sess,
		log:      log,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for one frame type. Frames of unregistered
// types are dropped.
func (m *Manager) Handle(frameType string, h Handler) {
	m.handlers[frameType] = h
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the streaming connection. It refuses to dial without a valid
// session; a dial failure schedules a reconnect attempt.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.session.Valid() {
		return fmt.Errorf("connect: session not valid")
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.stopping = false
	m.mu.Unlock()

	url := m.cfg.BaseURL + "/ws/chat/" + m.session.Token()
	ws, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		m.mu.Lock()
		m.state = Disconnected
		m.mu.Unlock()
		m.log.Warnw("websocket dial failed", "error", err)
		m.scheduleReconnect()
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	m.ws = ws
	m.state = Connected
	m.attempt = 0
	m.mu.Unlock()
	m.log.Infow("websocket connected")

	go m.readLoop(ws)
	go m.pingLoop(ws)
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopping = true
	ws := m.ws
	m.ws = nil
	m.state = Disconnected
	m.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// Send writes one frame. If the connection is not in the Connected state the
// frame is silently dropped; callers needing delivery guarantees use the
// REST path instead.
func (m *Manager) Send(frame any) {
	m.mu.Lock()
	ws := m.ws
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || ws == nil {
		m.log.Debugw("dropping outbound frame, not connected")
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := ws.WriteJSON(frame); err != nil {
		m.log.Warnw("websocket write failed", "error", err)
	}
}

// readLoop reads frames until the connection drops for any reason. Clean and
// abnormal closure are handled identically: state goes Disconnected and one
// reconnect is scheduled.
func (m *Manager) readLoop(ws *websocket.Conn) {
	defer m.handleClose(ws)

	ws.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.Warnw("websocket read failed", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		m.dispatch(data)
	}
}

// dispatch routes one inbound frame to its handler. Malformed frames and
// unknown types are logged and dropped; they never affect connection state.
func (m *Manager) dispatch(data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		m.log.Warnw("dropping inbound frame", "error", err)
		return
	}
	h, ok := m.handlers[frame.Type]
	if !ok {
		m.log.Debugw("no handler for frame type", "type", frame.Type)
		return
	}
	h(frame.Payload)
}

func (m *Manager) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		current := m.ws
		m.mu.Unlock()
		if current != ws {
			return
		}

		m.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
		err := ws.WriteMessage(websocket.PingMessage, nil)
		m.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (m *Manager) handleClose(ws *websocket.Conn) {
	ws.Close()

	m.mu.Lock()
	if m.ws == ws {
		m.ws = nil
		m.state = Disconnected
	}
	stopping := m.stopping
	m.mu.Unlock()

	if stopping {
		return
	}
	m.log.Infow("websocket disconnected")
	m.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect timer. If the session is no
// longer valid when it fires, the attempt is skipped.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopping || m.reconnectPending {
		m.mu.Unlock()
		return
	}
	if m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.log.Warnw("giving up on reconnect", "attempts", m.cfg.MaxAttempts)
		return
	}
	m.reconnectPending = true
	delay := m.nextDelayLocked()
	m.mu.Unlock()

	m.log.Infow("scheduling reconnect", "delay", delay)
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectPending = false
		stopping := m.stopping
		m.mu.Unlock()

		if stopping || !m.session.Valid() {
			return
		}
		m.Connect(context.Background())
	})
}

// nextDelayLocked computes the backoff for the current attempt: exponential
// from InitialBackoff, capped at MaxBackoff, with up to 20% added jitter.
// Jitter only ever lengthens the delay, so an attempt never fires before the
// nominal backoff.
func (m *Manager) nextDelayLocked() time.Duration {
	delay := m.cfg.MaxBackoff
	if m.attempt < 16 {
		if d := m.cfg.InitialBackoff << m.attempt; d > 0 && d < m.cfg.MaxBackoff {
			delay = d
		}
	}
	m.attempt++

	return time.Duration(float64(delay) * (1 + rand.Float64()*0.2))
}
