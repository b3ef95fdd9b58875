package http

import (
	"sync"
	"time"
)

// frameLimiter caps inbound frames per connection per minute. Heartbeats
// count too; the default budget leaves ample room for them.
type frameLimiter struct {
	mu      sync.Mutex
	limit   int
	counter int
	reset   *time.Ticker
	done    chan struct{}
}

func newFrameLimiter(limit int) *frameLimiter {
	if limit <= 0 {
		return &frameLimiter{limit: 0}
	}
	l := &frameLimiter{
		limit: limit,
		reset: time.NewTicker(time.Minute),
		done:  make(chan struct{}),
	}
	go l.resetLoop()
	return l
}

func (l *frameLimiter) allow() bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	return l.counter <= l.limit
}

func (l *frameLimiter) resetLoop() {
	for {
		select {
		case <-l.reset.C:
			l.mu.Lock()
			l.counter = 0
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

func (l *frameLimiter) stop() {
	if l == nil || l.reset == nil {
		return
	}
	l.reset.Stop()
	close(l.done)
}
