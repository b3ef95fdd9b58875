package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeyev/chatline/internal/proto"
)

// threadKey identifies one message view: a channel, or a thread within it.
type threadKey struct {
	channelID int64
	parentID  int64 // 0 for the channel's top level
}

// view holds the ordered, de-duplicated message sequence for one thread.
type view struct {
	messages []proto.Message
	byID     map[int64]int  // canonical id -> index
	byTag    map[string]int // pending clientTag -> index
}

func newView() *view {
	return &view{
		byID:  make(map[int64]int),
		byTag: make(map[string]int),
	}
}

// Reconciler merges locally-created optimistic messages, server broadcasts,
// and fetched history into one ordered view per channel/thread. A channel is
// only tracked while watched; broadcasts for unwatched channels are ignored.
// Canonical messages are keyed by server id, so applying the same broadcast
// twice is a no-op; optimistic entries are keyed by their correlation tag and
// replaced, never duplicated, when the canonical record arrives.
type Reconciler struct {
	mu       sync.Mutex
	views    map[threadKey]*view
	pending  map[string]threadKey // clientTag -> owning view
	presence map[int64]bool

	typingFn    func(channelID, userID int64)
	sendErrorFn func(clientTag, code, msg string)
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		views:    make(map[threadKey]*view),
		pending:  make(map[string]threadKey),
		presence: make(map[int64]bool),
	}
}

// OnTyping installs a callback for typing indicators. Typing never mutates
// message sequences.
func (r *Reconciler) OnTyping(fn func(channelID, userID int64)) {
	r.mu.Lock()
	r.typingFn = fn
	r.mu.Unlock()
}

// OnSendError installs a callback fired when the server rejects a send and
// the optimistic entry has been rolled back.
func (r *Reconciler) OnSendError(fn func(clientTag, code, msg string)) {
	r.mu.Lock()
	r.sendErrorFn = fn
	r.mu.Unlock()
}

// Watch starts tracking a channel (parentID nil) or thread.
func (r *Reconciler) Watch(channelID int64, parentID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyFor(channelID, parentID)
	if _, ok := r.views[key]; !ok {
		r.views[key] = newView()
	}
}

// Unwatch drops a channel/thread view and any pending entries in it.
func (r *Reconciler) Unwatch(channelID int64, parentID *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyFor(channelID, parentID)
	delete(r.views, key)
	for tag, owner := range r.pending {
		if owner == key {
			delete(r.pending, tag)
		}
	}
}

// AppendLocal appends an optimistic entry before any network round trip and
// returns its correlation tag. The temporary identifier is time-derived and
// negative so it can never collide with a server-assigned one.
func (r *Reconciler) AppendLocal(channelID int64, parentID *int64, authorID int64, content string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(channelID, parentID)
	v, ok := r.views[key]
	if !ok {
		v = newView()
		r.views[key] = v
	}

	tag := uuid.NewString()
	msg := proto.Message{
		ID:        -time.Now().UnixNano(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		ParentID:  parentID,
		CreatedAt: time.Now().UnixMilli(),
		ClientTag: tag,
	}

	v.byTag[tag] = len(v.messages)
	v.messages = append(v.messages, msg)
	r.pending[tag] = key

	return tag
}

// Confirm applies a canonical message: an exact correlation-tag match
// replaces the optimistic entry in place; an unknown id is appended; a known
// id is a no-op.
func (r *Reconciler) Confirm(msg proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmLocked(msg)
}

func (r *Reconciler) confirmLocked(msg proto.Message) {
	key := keyFor(msg.ChannelID, msg.ParentID)
	v, ok := r.views[key]
	if !ok {
		// Not watched; subscription boundary.
		return
	}

	if msg.ClientTag != "" {
		if idx, ok := v.byTag[msg.ClientTag]; ok {
			delete(r.pending, msg.ClientTag)
			if _, dup := v.byID[msg.ID]; dup {
				// The canonical record already entered the view without a
				// tag (history merge, replay). Retire the optimistic entry
				// rather than growing a second copy of the id.
				v.messages = append(v.messages[:idx], v.messages[idx+1:]...)
				v.reindex()
				return
			}
			v.messages[idx] = msg
			v.byID[msg.ID] = idx
			delete(v.byTag, msg.ClientTag)
			return
		}
	}

	if _, ok := v.byID[msg.ID]; ok {
		return
	}

	v.byID[msg.ID] = len(v.messages)
	v.messages = append(v.messages, msg)
}

// Rollback removes an unconfirmed optimistic entry, e.g. after a failed
// send. Returns false if the tag is unknown or already confirmed.
func (r *Reconciler) Rollback(clientTag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbackLocked(clientTag)
}

func (r *Reconciler) rollbackLocked(clientTag string) bool {
	key, ok := r.pending[clientTag]
	if !ok {
		return false
	}
	delete(r.pending, clientTag)

	v, ok := r.views[key]
	if !ok {
		return false
	}
	idx, ok := v.byTag[clientTag]
	if !ok {
		return false
	}

	v.messages = append(v.messages[:idx], v.messages[idx+1:]...)
	delete(v.byTag, clientTag)
	v.reindex()
	return true
}

// MergeHistory folds a fetched history batch into the view. Canonical
// entries are ordered by server id; pending optimistic entries stay after
// them in insertion order. A pending entry whose author and content match a
// batch record is treated as confirmed by it and dropped.
func (r *Reconciler) MergeHistory(channelID int64, parentID *int64, history []proto.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(channelID, parentID)
	v, ok := r.views[key]
	if !ok {
		v = newView()
		r.views[key] = v
	}

	canonical := make([]proto.Message, 0, len(v.messages)+len(history))
	seen := make(map[int64]bool, len(v.messages)+len(history))
	var pendingMsgs []proto.Message
	for _, msg := range v.messages {
		if msg.ID > 0 {
			canonical = append(canonical, msg)
			seen[msg.ID] = true
		} else {
			pendingMsgs = append(pendingMsgs, msg)
		}
	}
	for _, msg := range history {
		if msg.ID > 0 && !seen[msg.ID] {
			canonical = append(canonical, msg)
			seen[msg.ID] = true
		}
	}

	// A send can reach the store and then lose its socket before the
	// broadcast comes back; the canonical record then arrives only through
	// history, tagless. Resolve such entries by author+content so they do
	// not survive the reconnect as permanently-pending ghosts.
	matched := make(map[int64]bool, len(history))
	var stillPending []proto.Message
	for _, p := range pendingMsgs {
		resolved := false
		for _, c := range history {
			if c.ID > 0 && !matched[c.ID] && c.AuthorID == p.AuthorID && c.Content == p.Content {
				matched[c.ID] = true
				delete(r.pending, p.ClientTag)
				resolved = true
				break
			}
		}
		if !resolved {
			stillPending = append(stillPending, p)
		}
	}

	sort.Slice(canonical, func(i, j int) bool { return canonical[i].ID < canonical[j].ID })

	v.messages = append(canonical, stillPending...)
	v.reindex()
}

// ApplyFrame routes one received frame. Chat messages go to the matching
// channel/thread view; presence updates a separate map; typing surfaces
// through the callback without touching message order; send-error acks roll
// back the optimistic entry and notify the caller.
func (r *Reconciler) ApplyFrame(f proto.Frame) {
	ev, err := proto.Decode(f)
	if err != nil {
		return
	}

	switch ev := ev.(type) {
	case proto.NewMessageEvent:
		r.Confirm(ev.Message)
	case proto.PresenceEvent:
		r.mu.Lock()
		r.presence[ev.UserID] = ev.IsOnline
		r.mu.Unlock()
	case proto.TypingEvent:
		r.mu.Lock()
		fn := r.typingFn
		r.mu.Unlock()
		if fn != nil {
			fn(ev.ChannelID, ev.UserID)
		}
	case proto.AckEvent:
		if ev.Error == nil {
			return
		}
		r.mu.Lock()
		rolledBack := r.rollbackLocked(ev.ClientTag)
		fn := r.sendErrorFn
		r.mu.Unlock()
		if rolledBack && fn != nil {
			fn(ev.ClientTag, ev.Error.Code, ev.Error.Msg)
		}
	}
}

// Messages returns a snapshot of the ordered view for a channel/thread.
func (r *Reconciler) Messages(channelID int64, parentID *int64) []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.views[keyFor(channelID, parentID)]
	if !ok {
		return nil
	}
	out := make([]proto.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Online reports the last known presence of a user.
func (r *Reconciler) Online(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence[userID]
}

func (v *view) reindex() {
	v.byID = make(map[int64]int, len(v.messages))
	v.byTag = make(map[string]int)
	for i, msg := range v.messages {
		if msg.ID > 0 {
			v.byID[msg.ID] = i
		} else if msg.ClientTag != "" {
			v.byTag[msg.ClientTag] = i
		}
	}
}

func keyFor(channelID int64, parentID *int64) threadKey {
	key := threadKey{channelID: channelID}
	if parentID != nil {
		key.parentID = *parentID
	}
	return key
}
