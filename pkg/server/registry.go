package server

import (
	"sort"
	"sync"
)

// Registry tracks connected clients by screen name. The topology says
// which screens may connect; the registry says which are connected
// right now.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewRegistry creates an empty client registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// SetMetrics attaches metrics recording to the registry
func (r *Registry) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Add claims the slot for a client name. It reports false when the
// name is already connected, so of two racing connections for the same
// screen exactly one wins the slot.
func (r *Registry) Add(name string, sess *Session) bool {
	r.mu.Lock()
	if _, taken := r.sessions[name]; taken {
		r.mu.Unlock()
		return false
	}
	r.sessions[name] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordConnectedClients(count)
	}
	return true
}

// Remove releases a client slot. Only the session occupying the slot
// may release it; a late disconnect cannot evict a reconnected
// successor.
func (r *Registry) Remove(name string, sess *Session) {
	r.mu.Lock()
	current, ok := r.sessions[name]
	if !ok || current != sess {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, name)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordConnectedClients(count)
	}
}

// Get returns the session for a connected client name
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[name]
	return sess, ok
}

// Names returns the connected client names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Sessions returns a snapshot of all connected sessions
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Len returns the number of connected clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every connected session's transport. Session
// goroutines observe the close and unwind on their own.
func (r *Registry) CloseAll() {
	for _, sess := range r.Sessions() {
		sess.markClosing()
		sess.conn.Close()
	}
}
