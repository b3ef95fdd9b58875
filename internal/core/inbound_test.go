package core

import (
	"context"
	"testing"

	"github.com/avdeyev/chatline/internal/proto"
)

func newInboundFixture(t *testing.T) (*InboundHandler, *Registry, *fakeMessageStore) {
	t.Helper()
	reg := NewRegistry(nil)
	st := newFakeMessageStore()
	bcast := NewBroadcaster(reg, nopLogger(), nil)
	return NewInboundHandler(st, bcast, nopLogger(), nil), reg, st
}

func register(t *testing.T, reg *Registry, userID int64, tabID string) (*Conn, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	c := NewConn(userID, tabID, sink)
	if err := reg.Register(c); err != nil {
		t.Fatalf("register user %d: %v", userID, err)
	}
	return c, sink
}

func TestChatEventPersistsAndBroadcastsToAll(t *testing.T) {
	handler, reg, _ := newInboundFixture(t)

	sender, senderSink := register(t, reg, 1, "tabA")
	_, senderOtherTab := register(t, reg, 1, "tabB")
	_, otherSink := register(t, reg, 2, "tabC")

	handler.Handle(context.Background(), sender, proto.Frame{
		Type:      proto.FrameMessage,
		ChannelID: 5,
		Content:   "hi",
		ClientTag: "t1",
	})

	// Chat messages reach every connection, the sender's tabs included.
	for name, sink := range map[string]*fakeSink{"sender": senderSink, "senderOtherTab": senderOtherTab, "other": otherSink} {
		frames := framesOfType(sink.received(), proto.FrameNewMessage)
		if len(frames) != 1 {
			t.Fatalf("%s received %d new_message frames, want 1", name, len(frames))
		}
		msg := frames[0].Message
		if msg == nil {
			t.Fatalf("%s: new_message frame without message", name)
		}
		if msg.ID <= 0 {
			t.Fatalf("%s: canonical message must carry a server-assigned id, got %d", name, msg.ID)
		}
		if msg.ClientTag != "t1" {
			t.Fatalf("%s: expected echoed client tag, got %q", name, msg.ClientTag)
		}
		if msg.ChannelID != 5 || msg.Content != "hi" || msg.AuthorID != 1 {
			t.Fatalf("%s: unexpected canonical message %+v", name, msg)
		}
	}
}

func TestMalformedFrameIsDroppedSilently(t *testing.T) {
	handler, reg, st := newInboundFixture(t)

	sender, senderSink := register(t, reg, 1, "tabA")
	_, otherSink := register(t, reg, 2, "tabB")

	// Missing content.
	handler.Handle(context.Background(), sender, proto.Frame{Type: proto.FrameMessage, ChannelID: 5})
	// Unknown type.
	handler.Handle(context.Background(), sender, proto.Frame{Type: "bogus"})

	if len(senderSink.received()) != 0 || len(otherSink.received()) != 0 {
		t.Fatal("malformed frames must not produce any broadcast")
	}
	if len(st.messages) != 0 {
		t.Fatal("malformed frames must not be persisted")
	}
	if sender.State() == StateTerminated {
		t.Fatal("connection must stay open after a malformed frame")
	}
}

func TestTypingBroadcastExcludesSender(t *testing.T) {
	handler, reg, _ := newInboundFixture(t)

	sender, senderSink := register(t, reg, 1, "tabA")
	_, otherSink := register(t, reg, 2, "tabB")

	handler.Handle(context.Background(), sender, proto.Frame{Type: proto.FrameTyping, ChannelID: 5})

	if got := len(senderSink.received()); got != 0 {
		t.Fatalf("sender received %d typing frames, want 0", got)
	}
	frames := framesOfType(otherSink.received(), proto.FrameTyping)
	if len(frames) != 1 {
		t.Fatalf("other received %d typing frames, want 1", len(frames))
	}
	if frames[0].UserID != 1 {
		t.Fatalf("typing frame must carry the sender's user id, got %d", frames[0].UserID)
	}
}

func TestReadEventRecordsWithoutBroadcast(t *testing.T) {
	handler, reg, st := newInboundFixture(t)

	sender, _ := register(t, reg, 1, "tabA")
	_, otherSink := register(t, reg, 2, "tabB")

	handler.Handle(context.Background(), sender, proto.Frame{Type: proto.FrameRead, ChannelID: 5, MessageID: 42})

	mark, _ := st.GetReadMark(context.Background(), 1, 5)
	if mark == nil || mark.MessageID != 42 {
		t.Fatalf("expected read mark at 42, got %+v", mark)
	}
	if len(otherSink.received()) != 0 {
		t.Fatal("read events must not be broadcast")
	}
}

func TestPersistFailureAcksOriginOnly(t *testing.T) {
	handler, reg, st := newInboundFixture(t)
	st.failNext = true

	sender, senderSink := register(t, reg, 1, "tabA")
	_, otherSink := register(t, reg, 2, "tabB")

	handler.Handle(context.Background(), sender, proto.Frame{
		Type:      proto.FrameMessage,
		ChannelID: 5,
		Content:   "hi",
		ClientTag: "t1",
	})

	acks := framesOfType(senderSink.received(), proto.FrameAck)
	if len(acks) != 1 {
		t.Fatalf("origin received %d acks, want 1", len(acks))
	}
	if acks[0].Error == nil || acks[0].Error.Code != ErrCodePersistFailed {
		t.Fatalf("expected persist_failed ack, got %+v", acks[0].Error)
	}
	if acks[0].ClientTag != "t1" {
		t.Fatalf("ack must echo the client tag, got %q", acks[0].ClientTag)
	}
	if len(otherSink.received()) != 0 {
		t.Fatal("a failed insert must not be broadcast")
	}
}

func TestUnauthenticatedChatRejected(t *testing.T) {
	handler, _, st := newInboundFixture(t)

	// Connection without a user identity, never registered.
	sink := &fakeSink{}
	c := NewConn(0, "tabA", sink)

	handler.Handle(context.Background(), c, proto.Frame{Type: proto.FrameMessage, ChannelID: 5, Content: "hi"})

	acks := framesOfType(sink.received(), proto.FrameAck)
	if len(acks) != 1 || acks[0].Error == nil || acks[0].Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized ack, got %+v", acks)
	}
	if len(st.messages) != 0 {
		t.Fatal("unauthenticated message must not be persisted")
	}
}

func TestPingFrameMarksAlive(t *testing.T) {
	handler, reg, _ := newInboundFixture(t)

	c, _ := register(t, reg, 1, "tabA")
	c.MarkAwaitingPong()

	handler.Handle(context.Background(), c, proto.Frame{Type: proto.FramePing, TabID: "tabA"})

	if c.State() != StateAlive {
		t.Fatalf("expected ALIVE after app-level ping, got %v", c.State())
	}
}
