package proto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
	}{
		{"message without content", Frame{Type: FrameMessage, ChannelID: 5}},
		{"message without channel", Frame{Type: FrameMessage, Content: "hi"}},
		{"typing without channel", Frame{Type: FrameTyping}},
		{"read without message id", Frame{Type: FrameRead, ChannelID: 5}},
		{"new_message without message", Frame{Type: FrameNewMessage}},
		{"presence without user", Frame{Type: FramePresence}},
		{"unknown type", Frame{Type: "call_offer"}},
		{"empty type", Frame{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.frame); !errors.Is(err, ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestDecodeChatEvent(t *testing.T) {
	parent := int64(3)
	ev, err := Decode(Frame{
		Type:      FrameMessage,
		ChannelID: 5,
		ParentID:  &parent,
		Content:   "hi",
		ClientTag: "t1",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	chat, ok := ev.(ChatEvent)
	if !ok {
		t.Fatalf("expected ChatEvent, got %T", ev)
	}
	if chat.ChannelID != 5 || chat.Content != "hi" || chat.ClientTag != "t1" {
		t.Fatalf("unexpected event %+v", chat)
	}
	if chat.ParentID == nil || *chat.ParentID != 3 {
		t.Fatalf("expected parent 3, got %v", chat.ParentID)
	}
}

func TestEncodeNewMessageCarriesClientTag(t *testing.T) {
	f := Encode(NewMessageEvent{Message: Message{
		ID:        42,
		ChannelID: 5,
		AuthorID:  1,
		Content:   "hi",
		ClientTag: "t1",
	}})

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Frame
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != FrameNewMessage {
		t.Fatalf("expected new_message, got %q", back.Type)
	}
	if back.Message == nil || back.Message.ID != 42 || back.Message.ClientTag != "t1" {
		t.Fatalf("unexpected message %+v", back.Message)
	}
}

func TestPresenceRoundTripKeepsFalse(t *testing.T) {
	// isOnline=false must survive the wire even with omitempty fields around it.
	data, err := json.Marshal(Encode(PresenceEvent{UserID: 7, IsOnline: false}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Frame
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, err := Decode(back)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	presence, ok := ev.(PresenceEvent)
	if !ok {
		t.Fatalf("expected PresenceEvent, got %T", ev)
	}
	if presence.UserID != 7 || presence.IsOnline {
		t.Fatalf("unexpected event %+v", presence)
	}
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	// Clients may send a superset of the envelope; unknown keys are dropped by
	// the JSON layer, extra known keys by Decode.
	var f Frame
	if err := json.Unmarshal([]byte(`{"type":"ping","tabId":"tab-1","future":"field"}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev, err := Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ping, ok := ev.(PingEvent)
	if !ok {
		t.Fatalf("expected PingEvent, got %T", ev)
	}
	if ping.TabID != "tab-1" {
		t.Fatalf("expected tab-1, got %q", ping.TabID)
	}
}
