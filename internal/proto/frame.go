package proto

import (
	"errors"
	"fmt"
)

// FrameType tags a wire frame with the kind of event it carries.
type FrameType string

const (
	// Client -> server frames.
	FrameMessage FrameType = "message"
	FrameTyping  FrameType = "typing"
	FrameRead    FrameType = "read"
	FramePing    FrameType = "ping"

	// Server -> client frames.
	FrameNewMessage FrameType = "new_message"
	FramePresence   FrameType = "presence"
	FrameAck        FrameType = "ack"
)

// Frame is the JSON envelope exchanged over the WebSocket. Only the fields
// valid for the given Type are populated; Decode converts a frame into the
// corresponding Event variant and rejects frames with missing required fields.
type Frame struct {
	Type      FrameType `json:"type"`
	ChannelID int64     `json:"channelId,omitempty"`
	ParentID  *int64    `json:"parentId,omitempty"`
	Content   string    `json:"content,omitempty"`
	ClientTag string    `json:"clientTag,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	TabID     string    `json:"tabId,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	IsOnline  *bool     `json:"isOnline,omitempty"`
	MessageID int64     `json:"messageId,omitempty"`
	ReadAt    int64     `json:"readAt,omitempty"`
	Error     *Error    `json:"error,omitempty"`
}

// Message is the canonical chat message record as it appears on the wire.
// ClientTag echoes the sender's correlation token so the originating client
// can replace its optimistic entry by exact match.
type Message struct {
	ID         int64  `json:"id"`
	ChannelID  int64  `json:"channelId"`
	AuthorID   int64  `json:"authorId"`
	Content    string `json:"content"`
	ParentID   *int64 `json:"parentId,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // unix milliseconds
	ReplyCount int    `json:"replyCount,omitempty"`
	ClientTag  string `json:"clientTag,omitempty"`
}

// Error describes a protocol-level failure reported back to one client.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// ErrMalformedFrame is returned by Decode for frames that are structurally
// valid JSON but miss fields required by their type tag.
var ErrMalformedFrame = errors.New("malformed frame")

// Event is the decoded form of a Frame: one variant per frame type, each
// carrying only the fields that are meaningful for it.
type Event interface {
	frameType() FrameType
}

// ChatEvent is a client request to post a message to a channel or thread.
type ChatEvent struct {
	ChannelID int64
	ParentID  *int64
	Content   string
	ClientTag string
}

// TypingEvent signals that a user is typing in a channel.
type TypingEvent struct {
	ChannelID int64
	UserID    int64
}

// ReadEvent records the sender's last-read position in a channel.
type ReadEvent struct {
	ChannelID int64
	MessageID int64
	ReadAt    int64
}

// PingEvent is the application-level heartbeat sent by clients.
type PingEvent struct {
	TabID string
}

// NewMessageEvent carries a persisted message to every connection.
type NewMessageEvent struct {
	Message Message
}

// PresenceEvent announces a user's online/offline transition.
type PresenceEvent struct {
	UserID   int64
	IsOnline bool
}

// AckEvent reports the outcome of an inbound frame to its sender only.
type AckEvent struct {
	ClientTag string
	Error     *Error
}

func (ChatEvent) frameType() FrameType       { return FrameMessage }
func (TypingEvent) frameType() FrameType     { return FrameTyping }
func (ReadEvent) frameType() FrameType       { return FrameRead }
func (PingEvent) frameType() FrameType       { return FramePing }
func (NewMessageEvent) frameType() FrameType { return FrameNewMessage }
func (PresenceEvent) frameType() FrameType   { return FramePresence }
func (AckEvent) frameType() FrameType        { return FrameAck }

// Decode validates a frame against its type tag and returns the event variant.
func Decode(f Frame) (Event, error) {
	switch f.Type {
	case FrameMessage:
		if f.ChannelID <= 0 || f.Content == "" {
			return nil, fmt.Errorf("%w: message requires channelId and content", ErrMalformedFrame)
		}
		return ChatEvent{ChannelID: f.ChannelID, ParentID: f.ParentID, Content: f.Content, ClientTag: f.ClientTag}, nil
	case FrameTyping:
		if f.ChannelID <= 0 {
			return nil, fmt.Errorf("%w: typing requires channelId", ErrMalformedFrame)
		}
		return TypingEvent{ChannelID: f.ChannelID, UserID: f.UserID}, nil
	case FrameRead:
		if f.ChannelID <= 0 || f.MessageID <= 0 {
			return nil, fmt.Errorf("%w: read requires channelId and messageId", ErrMalformedFrame)
		}
		return ReadEvent{ChannelID: f.ChannelID, MessageID: f.MessageID, ReadAt: f.ReadAt}, nil
	case FramePing:
		return PingEvent{TabID: f.TabID}, nil
	case FrameNewMessage:
		if f.Message == nil {
			return nil, fmt.Errorf("%w: new_message requires message", ErrMalformedFrame)
		}
		return NewMessageEvent{Message: *f.Message}, nil
	case FramePresence:
		if f.UserID <= 0 || f.IsOnline == nil {
			return nil, fmt.Errorf("%w: presence requires userId and isOnline", ErrMalformedFrame)
		}
		return PresenceEvent{UserID: f.UserID, IsOnline: *f.IsOnline}, nil
	case FrameAck:
		return AckEvent{ClientTag: f.ClientTag, Error: f.Error}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
}

// Encode converts an event variant back into its wire frame.
func Encode(ev Event) Frame {
	switch ev := ev.(type) {
	case ChatEvent:
		return Frame{Type: FrameMessage, ChannelID: ev.ChannelID, ParentID: ev.ParentID, Content: ev.Content, ClientTag: ev.ClientTag}
	case TypingEvent:
		return Frame{Type: FrameTyping, ChannelID: ev.ChannelID, UserID: ev.UserID}
	case ReadEvent:
		return Frame{Type: FrameRead, ChannelID: ev.ChannelID, MessageID: ev.MessageID, ReadAt: ev.ReadAt}
	case PingEvent:
		return Frame{Type: FramePing, TabID: ev.TabID}
	case NewMessageEvent:
		msg := ev.Message
		return Frame{Type: FrameNewMessage, ChannelID: msg.ChannelID, Message: &msg}
	case PresenceEvent:
		online := ev.IsOnline
		return Frame{Type: FramePresence, UserID: ev.UserID, IsOnline: &online}
	case AckEvent:
		return Frame{Type: FrameAck, ClientTag: ev.ClientTag, Error: ev.Error}
	default:
		return Frame{}
	}
}
