// Package pending holds the three independent maps of not-yet-acknowledged
// outbound artifacts the host must replay after a reconnect: IO calls,
// page layouts, and page loading-state notifications. Each map is
// maintained and resent entirely independently — there is no cross-map
// ordering guarantee, matching the protocol's own send-coalescing design.
package pending

import (
	"strings"
	"sync"
)

// Entry is one outbound artifact awaiting acknowledgment from the peer.
// Method and Params are the exact RPC call that was (or will be) sent;
// AttemptNumber is incremented by the resend engine on each retry,
// starting at 1 for the first send.
type Entry struct {
	ID            string
	Method        string
	Params        any
	AttemptNumber int
}

// Map is one of the three independent pending-artifact maps: a plain
// get/set/delete store with no ordering semantics of its own.
type Map struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMap returns an empty pending-artifact map.
func NewMap() *Map {
	return &Map{entries: make(map[string]*Entry)}
}

// Put inserts or replaces the entry for id.
func (m *Map) Put(id string, e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = e
}

// Get returns the entry for id, if any.
func (m *Map) Get(id string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

// Delete removes the entry for id, if present. It is a no-op otherwise.
func (m *Map) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// DeletePrefix removes every entry whose id starts with prefix, used to
// tear down all artifacts belonging to one transaction (call ids are
// minted as "<transactionId>-io-<n>") without tracking them individually.
func (m *Map) DeletePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.entries {
		if strings.HasPrefix(id, prefix) {
			delete(m.entries, id)
		}
	}
}

// Len reports the number of entries currently pending.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns a copy of every pending entry, safe to range over
// without holding the map's lock — used by the resend engine so it never
// iterates the live map while a concurrent Put/Delete is in flight.
func (m *Map) Snapshot() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Store holds the three independent pending-artifact maps named in the
// protocol's data model: IO calls, page layout sends, and page
// loading-state notifications.
type Store struct {
	IO      *Map
	Layouts *Map
	Loading *Map
}

// NewStore returns a Store with all three maps initialized empty.
func NewStore() *Store {
	return &Store{
		IO:      NewMap(),
		Layouts: NewMap(),
		Loading: NewMap(),
	}
}
