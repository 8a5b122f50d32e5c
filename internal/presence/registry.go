// Package presence tracks which connections are online and which display
// name each one has chosen. State lives only in process memory; it is lost on
// restart by design.
package presence

import "sync"

// Registry maps connection identifiers to display names. It is the only
// mutable state shared between concurrent event handlers, so every access
// goes through its mutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry constructs an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Connect records a newly opened connection with no display name yet.
func (r *Registry) Connect(connectionID string) {
	if connectionID == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.entries[connectionID]; !ok {
		r.entries[connectionID] = ""
	}
	r.mu.Unlock()
}

// SetName stores the display name for a connection, inserting the entry when
// the connection was not seen before.
func (r *Registry) SetName(connectionID, name string) {
	if connectionID == "" {
		return
	}
	r.mu.Lock()
	r.entries[connectionID] = name
	r.mu.Unlock()
}

// Disconnect removes the connection's entry. Disconnecting an unknown
// connection is a no-op, so a repeated disconnect never double-counts.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	delete(r.entries, connectionID)
	r.mu.Unlock()
}

// Count returns the number of currently open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// NameOf returns the display name stored for the connection, or the empty
// string when the connection is unknown or has not set a name.
func (r *Registry) NameOf(connectionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[connectionID]
}
