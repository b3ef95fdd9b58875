package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultHeartbeatInterval matches the client's ~25-30s ping cadence.
	DefaultHeartbeatInterval = 30 * time.Second

	pingTimeout = 10 * time.Second

	// CloseLivenessTimeout is the close code sent to reaped connections.
	CloseLivenessTimeout = 1001 // going away
)

// Monitor drives the per-connection heartbeat state machine
// ALIVE <-> AWAITING_PONG -> TERMINATED. Each tick marks every connection
// awaiting-pong and pings it; a connection still awaiting at the next tick
// missed a full cycle and is terminated and unregistered, which bounds
// presence staleness to two intervals.
type Monitor struct {
	reg      *Registry
	log      *zerolog.Logger
	inst     Instrumentation
	interval time.Duration
}

// NewMonitor builds a liveness monitor. interval <= 0 selects the default.
func NewMonitor(reg *Registry, logger *zerolog.Logger, inst Instrumentation, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{reg: reg, log: logger, inst: inst, interval: interval}
}

// Run ticks until ctx is cancelled. Call in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one heartbeat cycle over a snapshot of the registry.
// Exported so tests can drive ticks deterministically.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, c := range m.reg.Snapshot() {
		switch {
		case c.State() == StateTerminated:
			// Transport already closed; make sure it is unregistered.
			m.reg.Unregister(c.UserID, c.TabID)
		case c.Failed() || c.State() == StateAwaitingPong:
			m.Terminate(c, "liveness timeout")
		default:
			if c.MarkAwaitingPong() {
				go m.ping(ctx, c)
			}
		}
	}
}

// Terminate closes a connection and removes it from the registry, firing the
// presence-offline edge if it was the user's last one.
func (m *Monitor) Terminate(c *Conn, reason string) {
	if !c.Terminate(CloseLivenessTimeout, reason) {
		m.reg.Unregister(c.UserID, c.TabID)
		return
	}
	if m.inst != nil {
		m.inst.ConnTerminated()
	}
	m.log.Info().
		Int64("user_id", c.UserID).
		Str("tab_id", c.TabID).
		Str("reason", reason).
		Msg("connection terminated")
	m.reg.Unregister(c.UserID, c.TabID)
}

func (m *Monitor) ping(ctx context.Context, c *Conn) {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.Ping(pctx); err != nil {
		// Leave the conn awaiting-pong; next sweep reaps it.
		m.log.Debug().Err(err).Int64("user_id", c.UserID).Str("tab_id", c.TabID).Msg("ping failed")
		return
	}
	c.MarkAlive()
}
