// Package client implements the browser-side half of the sync protocol for
// Go consumers: a reconnecting WebSocket manager and the optimistic/canonical
// message reconciler.
package client

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/proto"
)

// State is the connection manager's lifecycle state.
type State int32

const (
	// StateConnecting means a dial is in progress or scheduled.
	StateConnecting State = iota
	// StateOpen means the socket is up and sends are delivered.
	StateOpen
	// StateClosed means the socket dropped; a reconnect is pending unless
	// the manager was stopped.
	StateClosed
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultReconnectDelay    = time.Second
	sendTimeout              = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// Token authenticates the connection (JWT from /api/login).
	Token string
	// TabID identifies this logical tab across reconnects. Generated when
	// empty.
	TabID string
	// HeartbeatInterval paces application-level pings. Default 25s.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed delay between reconnect attempts.
	// Default 1s.
	ReconnectDelay time.Duration
	Logger         *zerolog.Logger
}

// Manager maintains one logical socket per tab across network drops:
// CONNECTING -> OPEN -> CLOSED -> CONNECTING after a fixed backoff. Every
// reconnect carries the same tab identifier so the server sees a fresh
// connection for the same tab. Sends while not OPEN are dropped, never
// queued. All received frames fan out to every subscriber; consumers filter
// independently.
type Manager struct {
	opts Options

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	subs    map[int]func(proto.Frame)
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager; call Start to begin connecting.
func NewManager(opts Options) *Manager {
	if opts.TabID == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Manager{
		opts:  opts,
		state: StateConnecting,
		subs:  make(map[int]func(proto.Frame)),
		done:  make(chan struct{}),
	}
}

// TabID returns the stable tab identifier carried on every connection.
func (m *Manager) TabID() string {
	return m.opts.TabID
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connect/reconnect loop until ctx is cancelled or Close
// is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Close stops the manager and waits for the loop to exit. A manager that was
// never started has no loop to wait for.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Subscribe registers a handler for every received frame and returns its
// cancel function. Cancelling only drops the filter; the socket stays open
// for other subscribers.
func (m *Manager) Subscribe(fn func(proto.Frame)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Send writes an event if the socket is OPEN. Returns false when the event
// was dropped; there is no store-and-forward across disconnects.
func (m *Manager) Send(ctx context.Context, ev proto.Event) bool {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := wsjson.Write(wctx, conn, proto.Encode(ev)); err != nil {
		m.opts.Logger.Debug().Err(err).Msg("send failed")
		return false
	}
	return true
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		m.transition(StateConnecting, nil)

		conn, _, err := websocket.Dial(ctx, m.dialURL(), nil)
		if err != nil {
			m.opts.Logger.Debug().Err(err).Msg("dial failed")
			if !m.waitReconnect(ctx) {
				return
			}
			continue
		}

		m.transition(StateOpen, conn)
		m.opts.Logger.Info().Str("tab_id", m.opts.TabID).Msg("connected")

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go m.heartbeat(hbCtx)

		readErr := m.readLoop(ctx, conn)
		stopHeartbeat()

		m.transition(StateClosed, nil)
		conn.Close(websocket.StatusNormalClosure, "reconnecting")
		m.opts.Logger.Info().Err(readErr).Str("tab_id", m.opts.TabID).Msg("disconnected")

		if ctx.Err() != nil {
			return
		}
		if !m.waitReconnect(ctx) {
			return
		}
	}
}

func (m *Manager) dialURL() string {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return m.opts.URL
	}
	q := u.Query()
	q.Set("tabId", m.opts.TabID)
	if m.opts.Token != "" {
		q.Set("token", m.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame proto.Frame) {
	m.mu.Lock()
	handlers := make([]func(proto.Frame), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(frame)
	}
}

func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Send(ctx, proto.PingEvent{TabID: m.opts.TabID})
		}
	}
}

func (m *Manager) waitReconnect(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.opts.ReconnectDelay):
		return true
	}
}

func (m *Manager) transition(state State, conn *websocket.Conn) {
	m.mu.Lock()
	m.state = state
	m.conn = conn
	m.mu.Unlock()
}
