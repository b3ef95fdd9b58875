package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/proto"
	"github.com/avdeyev/chatline/internal/store"
)

const persistTimeout = 10 * time.Second

// InboundHandler validates frames arriving on a connection, persists chat
// messages through the store collaborator, and hands the results to the
// broadcaster. Malformed frames are dropped at the connection level: logged,
// never fatal to the connection or the process.
type InboundHandler struct {
	store store.MessageStore
	bcast *Broadcaster
	log   *zerolog.Logger
	inst  Instrumentation
}

// NewInboundHandler wires the handler to its collaborators. inst may be nil.
func NewInboundHandler(st store.MessageStore, bcast *Broadcaster, logger *zerolog.Logger, inst Instrumentation) *InboundHandler {
	return &InboundHandler{store: st, bcast: bcast, log: logger, inst: inst}
}

// Handle processes one frame from conn. Never returns an error: every
// failure mode is connection-local.
func (h *InboundHandler) Handle(ctx context.Context, c *Conn, f proto.Frame) {
	ev, err := proto.Decode(f)
	if err != nil {
		h.log.Debug().Err(err).
			Int64("user_id", c.UserID).
			Str("tab_id", c.TabID).
			Msg("dropping malformed frame")
		return
	}

	switch ev := ev.(type) {
	case proto.ChatEvent:
		h.handleChat(ctx, c, ev)
	case proto.TypingEvent:
		// Not persisted; sender excluded so nobody is notified of their
		// own typing.
		ev.UserID = c.UserID
		h.bcast.Broadcast(ctx, ev, c)
	case proto.ReadEvent:
		h.handleRead(ctx, c, ev)
	case proto.PingEvent:
		// Application-level heartbeat counts as a pong.
		c.MarkAlive()
	default:
		h.log.Debug().
			Str("frame_type", string(f.Type)).
			Int64("user_id", c.UserID).
			Msg("ignoring frame type not valid from clients")
	}
}

func (h *InboundHandler) handleChat(ctx context.Context, c *Conn, ev proto.ChatEvent) {
	if c.UserID <= 0 {
		h.bcast.Send(ctx, c, proto.AckEvent{
			ClientTag: ev.ClientTag,
			Error:     &proto.Error{Code: ErrCodeUnauthorized, Msg: "no authenticated user"},
		})
		return
	}

	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	msg, err := h.store.InsertMessage(pctx, ev.ChannelID, c.UserID, ev.Content, ev.ParentID)
	if err != nil {
		h.log.Error().Err(err).
			Int64("user_id", c.UserID).
			Int64("channel_id", ev.ChannelID).
			Msg("insert message")
		// Not broadcast; only the origin learns of the failure so it can
		// roll back its optimistic entry.
		h.bcast.Send(ctx, c, proto.AckEvent{
			ClientTag: ev.ClientTag,
			Error:     &proto.Error{Code: ErrCodePersistFailed, Msg: "message not saved"},
		})
		return
	}
	if h.inst != nil {
		h.inst.MessagePersisted()
	}

	wire := WireMessage(msg)
	wire.ClientTag = ev.ClientTag

	// Chat messages go to every connection, the sender's included, so the
	// author's other tabs stay in sync.
	h.bcast.Broadcast(ctx, proto.NewMessageEvent{Message: wire}, nil)
}

func (h *InboundHandler) handleRead(ctx context.Context, c *Conn, ev proto.ReadEvent) {
	if c.UserID <= 0 {
		return
	}

	readAt := time.Now()
	if ev.ReadAt > 0 {
		readAt = time.UnixMilli(ev.ReadAt)
	}

	pctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	// Read state is pulled by clients, not pushed: record it and stop.
	if err := h.store.MarkRead(pctx, c.UserID, ev.ChannelID, ev.MessageID, readAt); err != nil {
		h.log.Error().Err(err).
			Int64("user_id", c.UserID).
			Int64("channel_id", ev.ChannelID).
			Msg("mark read")
	}
}

// WireMessage converts a persisted message to its wire representation.
func WireMessage(msg *store.Message) proto.Message {
	return proto.Message{
		ID:         msg.ID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.AuthorID,
		Content:    msg.Content,
		ParentID:   msg.ParentID,
		CreatedAt:  msg.CreatedAt.UnixMilli(),
		ReplyCount: msg.ReplyCount,
	}
}
