package server

import (
	"sync"
	"time"

	"github.com/edupolicy/policychat-go/internal/conversation"
)

// idleSessionTTL is how long a session may go without a request before its
// machine is evicted from the registry. Eviction is local only: persisted
// transcripts survive, and a client presenting an evicted ID on /api/chat
// resumes from the history store through a fresh machine.
const idleSessionTTL = time.Hour

// sessionEntry pairs a live machine with the last time a request touched it.
type sessionEntry struct {
	machine  *conversation.Machine
	lastSeen time.Time
}

// sessionRegistry tracks the live conversation machines by session ID.
// Machines are created lazily: on the first question of a new session, or
// when a client supplies an ID the registry has not seen (resuming a
// persisted session after a restart). Idle entries are swept by a background
// goroutine so the registry stays bounded over the server's lifetime.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	// build constructs a machine, optionally bound to an existing ID.
	build func(sessionID string) *conversation.Machine
	// active is invoked with the new session count after every change so
	// the metrics gauge stays current.
	active func(n int)
}

// newSessionRegistry constructs a sessionRegistry and starts the background
// eviction goroutine. The goroutine exits when the returned stop function is
// called.
func newSessionRegistry(build func(sessionID string) *conversation.Machine, active func(int)) (*sessionRegistry, func()) {
	if active == nil {
		active = func(int) {}
	}
	r := &sessionRegistry{
		sessions: make(map[string]*sessionEntry),
		build:    build,
		active:   active,
	}

	stopCh := make(chan struct{})
	go r.evictLoop(stopCh)

	return r, func() { close(stopCh) }
}

// get returns the machine for sessionID, creating one when needed. An empty
// sessionID always creates a fresh session.
func (r *sessionRegistry) get(sessionID string) *conversation.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if e, ok := r.sessions[sessionID]; ok {
			e.lastSeen = time.Now()
			return e.machine
		}
	}
	m := r.build(sessionID)
	r.sessions[m.SessionID()] = &sessionEntry{machine: m, lastSeen: time.Now()}
	r.active(len(r.sessions))
	return m
}

// lookup returns the machine for sessionID without creating one.
func (r *sessionRegistry) lookup(sessionID string) (*conversation.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.machine, true
}

// rekey moves a machine to its new session ID after a reset.
func (r *sessionRegistry) rekey(oldID, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[oldID]
	if !ok {
		return
	}
	delete(r.sessions, oldID)
	e.lastSeen = time.Now()
	r.sessions[newID] = e
	r.active(len(r.sessions))
}

// evictLoop sweeps the registry once a minute. It runs in a background
// goroutine and exits when stopCh is closed.
func (r *sessionRegistry) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.evict()
		}
	}
}

// evict removes sessions idle for longer than idleSessionTTL.
func (r *sessionRegistry) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleSessionTTL)
	evicted := false
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			evicted = true
		}
	}
	if evicted {
		r.active(len(r.sessions))
	}
}
