package core

import "sync"

const registryShards = 16

// Instrumentation receives counter updates from the sync core. The metrics
// package provides the production implementation; tests pass nil.
type Instrumentation interface {
	ConnOpened()
	ConnClosed()
	ConnTerminated()
	BroadcastDelivered()
	BroadcastWriteFailed()
	MessagePersisted()
}

// EdgeHooks observe presence edges: the first connection for a user coming
// up, and the last one going away. Both run outside registry locks.
type EdgeHooks struct {
	// UserOnline fires when a user's connection count goes 0 -> 1. The
	// triggering connection is passed so broadcasts can exclude it.
	UserOnline func(c *Conn)
	// UserOffline fires when a user's connection count goes 1 -> 0.
	UserOffline func(userID int64)
}

type connKey struct {
	userID int64
	tabID  string
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[connKey]*Conn
}

// Registry tracks every live connection keyed by (user, tab). It is the one
// shared mutable structure on the server; shards keyed by user id keep
// registrations for different users from contending on a single lock.
type Registry struct {
	shards [registryShards]*registryShard
	hooks  EdgeHooks
	inst   Instrumentation
}

// NewRegistry builds an empty registry. inst may be nil.
func NewRegistry(inst Instrumentation) *Registry {
	r := &Registry{inst: inst}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[connKey]*Conn)}
	}
	return r
}

// SetEdgeHooks installs presence edge callbacks. Must be called before the
// registry receives traffic.
func (r *Registry) SetEdgeHooks(hooks EdgeHooks) {
	r.hooks = hooks
}

func (r *Registry) shardFor(userID int64) *registryShard {
	return r.shards[uint64(userID)%registryShards]
}

// Register adds a connection. It fails closed when either identity component
// is missing; the caller must close the socket with a policy-violation code.
// A 0 -> 1 transition for the user fires the online edge hook.
func (r *Registry) Register(c *Conn) error {
	if c.UserID <= 0 || c.TabID == "" {
		return ErrMissingIdentity
	}

	key := connKey{userID: c.UserID, tabID: c.TabID}
	sh := r.shardFor(c.UserID)

	sh.mu.Lock()
	if _, exists := sh.conns[key]; exists {
		sh.mu.Unlock()
		return ErrDuplicateTab
	}
	firstForUser := sh.countForLocked(c.UserID) == 0
	sh.conns[key] = c
	sh.mu.Unlock()

	if r.inst != nil {
		r.inst.ConnOpened()
	}
	if firstForUser && r.hooks.UserOnline != nil {
		r.hooks.UserOnline(c)
	}
	return nil
}

// Unregister removes a connection if present. A 1 -> 0 transition for the
// user fires the offline edge hook. Idempotent.
func (r *Registry) Unregister(userID int64, tabID string) {
	key := connKey{userID: userID, tabID: tabID}
	sh := r.shardFor(userID)

	sh.mu.Lock()
	if _, exists := sh.conns[key]; !exists {
		sh.mu.Unlock()
		return
	}
	delete(sh.conns, key)
	lastForUser := sh.countForLocked(userID) == 0
	sh.mu.Unlock()

	if r.inst != nil {
		r.inst.ConnClosed()
	}
	if lastForUser && r.hooks.UserOffline != nil {
		r.hooks.UserOffline(userID)
	}
}

// Get returns the connection for (user, tab), or nil.
func (r *Registry) Get(userID int64, tabID string) *Conn {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.conns[connKey{userID: userID, tabID: tabID}]
}

// CountFor returns the number of live connections for a user.
func (r *Registry) CountFor(userID int64) int {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.countForLocked(userID)
}

// Len returns the total number of registered connections.
func (r *Registry) Len() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		total += len(sh.conns)
		sh.mu.RUnlock()
	}
	return total
}

// Snapshot copies the current connection set. Broadcast and the liveness
// monitor iterate the copy so concurrent unregistration cannot corrupt the
// walk.
func (r *Registry) Snapshot() []*Conn {
	out := make([]*Conn, 0, 64)
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

// ForEach visits a snapshot of the connection set.
func (r *Registry) ForEach(visit func(*Conn)) {
	for _, c := range r.Snapshot() {
		visit(c)
	}
}

func (sh *registryShard) countForLocked(userID int64) int {
	n := 0
	for key := range sh.conns {
		if key.userID == userID {
			n++
		}
	}
	return n
}
