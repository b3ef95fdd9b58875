package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/proto"
	"github.com/avdeyev/chatline/internal/store"
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeSink records everything written to it. failWrites makes every Write
// return an error; failPings does the same for Ping.
type fakeSink struct {
	mu         sync.Mutex
	frames     []proto.Frame
	failWrites bool
	failPings  bool
	closed     bool
	closeCode  int
}

func (s *fakeSink) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("write refused")
	}
	var frame proto.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPings {
		return errors.New("ping refused")
	}
	return nil
}

func (s *fakeSink) Close(code int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	return nil
}

func (s *fakeSink) received() []proto.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proto.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeMessageStore implements store.MessageStore in memory.
type fakeMessageStore struct {
	mu        sync.Mutex
	nextID    int64
	messages  []*store.Message
	readMarks map[string]*store.ReadMark
	failNext  bool
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{nextID: 1, readMarks: make(map[string]*store.ReadMark)}
}

func (f *fakeMessageStore) InsertMessage(_ context.Context, channelID, authorID int64, content string, parentID *int64) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("store unavailable")
	}
	msg := &store.Message{
		ID:        f.nextID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
	f.nextID++
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeMessageStore) ListMessages(_ context.Context, channelID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := f.messages[i]
		if msg.ChannelID != channelID {
			continue
		}
		if beforeID != nil && msg.ID >= *beforeID {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (f *fakeMessageStore) MarkRead(_ context.Context, userID, channelID, messageID int64, readAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d/%d", userID, channelID)
	f.readMarks[key] = &store.ReadMark{UserID: userID, ChannelID: channelID, MessageID: messageID, ReadAt: readAt}
	return nil
}

func (f *fakeMessageStore) GetReadMark(_ context.Context, userID, channelID int64) (*store.ReadMark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readMarks[fmt.Sprintf("%d/%d", userID, channelID)], nil
}

// fakePresenceStore records SetUserOnline calls.
type fakePresenceStore struct {
	mu    sync.Mutex
	calls []presenceCall
}

type presenceCall struct {
	userID int64
	online bool
}

func (f *fakePresenceStore) SetUserOnline(_ context.Context, userID int64, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, presenceCall{userID: userID, online: online})
	return nil
}

func (f *fakePresenceStore) recorded() []presenceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]presenceCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func framesOfType(frames []proto.Frame, ft proto.FrameType) []proto.Frame {
	var out []proto.Frame
	for _, f := range frames {
		if f.Type == ft {
			out = append(out, f)
		}
	}
	return out
}
