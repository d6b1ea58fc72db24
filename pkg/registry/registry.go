// Package registry holds the in-memory set of clusters currently eligible to
// serve traffic. It is the single source of truth for routing decisions.
package registry

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
)

var (
	// ErrEmpty is returned by PickOne when no cluster is online. The
	// download router treats it as a signal to fall back to origin serving.
	ErrEmpty = errors.New("no cluster online")
	// ErrConflict rejects a second online entry for an id that already owns
	// a slot. Duplicate enables must never silently overwrite.
	ErrConflict = errors.New("cluster already online")
)

// Entry is the routing snapshot of an online cluster.
type Entry struct {
	ID     string
	Host   string
	Port   int
	Secret string
}

// Registry serializes all membership mutations so that no two sessions can
// insert an entry for the same cluster id, and a PickOne never observes a
// half-inserted entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add inserts the entry; ErrConflict if the id already holds a slot.
func (r *Registry) Add(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return ErrConflict
	}
	r.entries[e.ID] = e
	return nil
}

// Remove drops the entry for id; reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SnapshotAll returns a copy of the current entries ordered by id.
func (r *Registry) SnapshotAll() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PickOne selects an online cluster uniformly at random. Selection is not
// weighted by trust or declared bandwidth.
func (r *Registry) PickOne() (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	n := rand.Intn(len(r.entries))
	for _, e := range r.entries {
		if n == 0 {
			return e, nil
		}
		n--
	}
	// unreachable: map is non-empty and n < len
	return Entry{}, ErrEmpty
}
