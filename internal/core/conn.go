package core

import (
	"context"
	"sync"
	"time"
)

// LivenessState tracks where a connection is in the heartbeat cycle.
type LivenessState int32

const (
	// StateAlive means a pong was received since the last monitor tick.
	StateAlive LivenessState = iota
	// StateAwaitingPong means a ping is outstanding; a connection still in
	// this state at the next tick is reaped.
	StateAwaitingPong
	// StateTerminated means the connection has been closed by the monitor
	// or the transport and must not receive further writes.
	StateTerminated
)

// Sink abstracts the transport half of a connection. The WebSocket handler
// provides an implementation; tests substitute fakes.
type Sink interface {
	// Write delivers one serialized frame. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error
	// Ping sends a transport-level ping and blocks until the pong arrives
	// or ctx expires.
	Ping(ctx context.Context) error
	// Close terminates the transport with a close code and reason.
	Close(code int, reason string) error
}

// Conn is one live socket tied to a (user, tab) pair. The Registry owns the
// lifecycle; everything else holds it only to write or inspect liveness.
type Conn struct {
	UserID int64
	TabID  string

	sink Sink

	mu       sync.Mutex
	state    LivenessState
	failed   bool
	lastPong time.Time
}

// NewConn wraps a transport sink for registration.
func NewConn(userID int64, tabID string, sink Sink) *Conn {
	return &Conn{
		UserID:   userID,
		TabID:    tabID,
		sink:     sink,
		state:    StateAlive,
		lastPong: time.Now(),
	}
}

// Write forwards a serialized frame to the transport unless the connection
// has already been terminated.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.State() == StateTerminated {
		return ErrConnTerminated
	}
	return c.sink.Write(ctx, data)
}

// Ping forwards a transport-level ping.
func (c *Conn) Ping(ctx context.Context) error {
	return c.sink.Ping(ctx)
}

// MarkAlive records a heartbeat response and returns the connection to ALIVE.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return
	}
	c.state = StateAlive
	c.lastPong = time.Now()
}

// MarkAwaitingPong flags the connection as waiting for the next heartbeat
// response. Returns false if the connection is already terminated.
func (c *Conn) MarkAwaitingPong() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return false
	}
	c.state = StateAwaitingPong
	return true
}

// Fail schedules the connection for termination by the liveness monitor.
// Used when a broadcast write fails so the in-flight iteration is never
// mutated from under the broadcaster.
func (c *Conn) Fail() {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
}

// Failed reports whether a write error marked this connection for reaping.
func (c *Conn) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// State returns the current liveness state.
func (c *Conn) State() LivenessState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastPong returns the time of the most recent heartbeat response.
func (c *Conn) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Terminate closes the transport and moves the connection to TERMINATED.
// Idempotent; returns true on the first call only.
func (c *Conn) Terminate(code int, reason string) bool {
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return false
	}
	c.state = StateTerminated
	c.mu.Unlock()

	_ = c.sink.Close(code, reason)
	return true
}
