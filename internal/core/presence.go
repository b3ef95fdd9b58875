package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/proto"
	"github.com/avdeyev/chatline/internal/store"
)

const presencePersistTimeout = 5 * time.Second

// Tracker turns registry occupancy edges into presence transitions: exactly
// one online event when a user's first connection registers and one offline
// event when the last one goes away. Intermediate tab churn (2 -> 1 and so
// on) produces nothing. Transitions for one user are applied strictly in
// edge order, so a rapid offline/online flap cannot leave the persisted flag
// pointing the wrong way.
type Tracker struct {
	store store.PresenceStore
	bcast *Broadcaster
	log   *zerolog.Logger

	mu     sync.Mutex
	queues map[int64][]presenceOp
}

type presenceOp struct {
	online  bool
	exclude *Conn
}

// NewTracker builds a presence tracker over the persistence collaborator.
func NewTracker(st store.PresenceStore, bcast *Broadcaster, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		store:  st,
		bcast:  bcast,
		log:    logger,
		queues: make(map[int64][]presenceOp),
	}
}

// Hooks returns edge callbacks for Registry.SetEdgeHooks.
func (t *Tracker) Hooks() EdgeHooks {
	return EdgeHooks{
		UserOnline:  t.userOnline,
		UserOffline: t.userOffline,
	}
}

func (t *Tracker) userOnline(c *Conn) {
	t.log.Debug().Int64("user_id", c.UserID).Msg("presence online")
	t.enqueue(c.UserID, presenceOp{online: true, exclude: c})
}

func (t *Tracker) userOffline(userID int64) {
	t.log.Debug().Int64("user_id", userID).Msg("presence offline")
	t.enqueue(userID, presenceOp{online: false})
}

// enqueue appends the transition to the user's queue and starts a drainer if
// none is running. Persist and broadcast happen off the registration path.
func (t *Tracker) enqueue(userID int64, op presenceOp) {
	t.mu.Lock()
	q, active := t.queues[userID]
	t.queues[userID] = append(q, op)
	t.mu.Unlock()

	if !active {
		go t.drain(userID)
	}
}

func (t *Tracker) drain(userID int64) {
	for {
		t.mu.Lock()
		q := t.queues[userID]
		if len(q) == 0 {
			delete(t.queues, userID)
			t.mu.Unlock()
			return
		}
		op := q[0]
		t.queues[userID] = q[1:]
		t.mu.Unlock()

		t.apply(userID, op.online, op.exclude)
	}
}

func (t *Tracker) apply(userID int64, online bool, exclude *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), presencePersistTimeout)
	defer cancel()

	if err := t.store.SetUserOnline(ctx, userID, online); err != nil {
		t.log.Error().Err(err).Int64("user_id", userID).Bool("online", online).Msg("persist presence")
		// Still broadcast: the live view matters more than the stored flag.
	}

	t.bcast.Broadcast(ctx, proto.PresenceEvent{UserID: userID, IsOnline: online}, exclude)
}
