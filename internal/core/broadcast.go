package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/proto"
)

const defaultWriteTimeout = 5 * time.Second

// Broadcaster fans one event out to every live connection, optionally
// skipping the sender. A write failure on one connection never aborts
// delivery to the rest; the failing connection is only marked and left for
// the liveness monitor to reap, so in-flight iteration stays intact.
type Broadcaster struct {
	reg          *Registry
	log          *zerolog.Logger
	inst         Instrumentation
	writeTimeout time.Duration
}

// NewBroadcaster builds a broadcaster over the registry. inst may be nil.
func NewBroadcaster(reg *Registry, logger *zerolog.Logger, inst Instrumentation) *Broadcaster {
	return &Broadcaster{
		reg:          reg,
		log:          logger,
		inst:         inst,
		writeTimeout: defaultWriteTimeout,
	}
}

// Broadcast serializes the event once and writes it to every registered
// connection except exclude (pass nil to include all).
func (b *Broadcaster) Broadcast(ctx context.Context, ev proto.Event, exclude *Conn) {
	frame := proto.Encode(ev)
	data, err := json.Marshal(frame)
	if err != nil {
		b.log.Error().Err(err).Str("frame_type", string(frame.Type)).Msg("marshal broadcast frame")
		return
	}

	for _, c := range b.reg.Snapshot() {
		if c == exclude || c.State() == StateTerminated {
			continue
		}
		b.writeOne(ctx, c, data, frame.Type)
	}
}

// Send writes an event to a single connection (acks, errors).
func (b *Broadcaster) Send(ctx context.Context, c *Conn, ev proto.Event) {
	frame := proto.Encode(ev)
	data, err := json.Marshal(frame)
	if err != nil {
		b.log.Error().Err(err).Str("frame_type", string(frame.Type)).Msg("marshal frame")
		return
	}
	b.writeOne(ctx, c, data, frame.Type)
}

func (b *Broadcaster) writeOne(ctx context.Context, c *Conn, data []byte, ft proto.FrameType) {
	wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()

	if err := c.Write(wctx, data); err != nil {
		c.Fail()
		if b.inst != nil {
			b.inst.BroadcastWriteFailed()
		}
		b.log.Warn().Err(err).
			Int64("user_id", c.UserID).
			Str("tab_id", c.TabID).
			Str("frame_type", string(ft)).
			Msg("broadcast write failed, connection scheduled for termination")
		return
	}
	if b.inst != nil {
		b.inst.BroadcastDelivered()
	}
}
