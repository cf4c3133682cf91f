package chat

import (
	"sort"
	"sync"
	"time"
)

// Registry holds one Controller per session, created on first use.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty registry whose controllers share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Controller),
	}
}

// Get returns the controller for sessionID, creating it if needed, and marks
// it as used.
func (r *Registry) Get(sessionID string) *Controller {
	r.mu.Lock()
	c, ok := r.sessions[sessionID]
	if !ok {
		c = NewController(sessionID, r.opts)
		r.sessions[sessionID] = c
		r.opts.logger().Info("Chat session created", "session_id", sessionID)
	}
	r.mu.Unlock()

	if ok {
		c.Touch()
	}
	return c
}

// Lookup returns the controller for sessionID without creating or touching it.
func (r *Registry) Lookup(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionID]
	return c, ok
}

// Drop discards a session. It reports whether the session existed.
func (r *Registry) Drop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the live session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// expire removes sessions unused since before cutoff. Sessions awaiting a
// response are kept regardless of age.
func (r *Registry) expire(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, c := range r.sessions {
		lastUsed, busy := c.idleSince()
		if busy || !lastUsed.Before(cutoff) {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired
}
