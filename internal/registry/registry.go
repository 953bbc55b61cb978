// Package registry tracks every connected participant and its presence
// attributes. It is the single in-memory source of truth for who is online
// and who is searchable, and it enforces the invariant that a participant is
// either available or in a room, never both.
package registry

import (
	"sync"
	"time"

	"github.com/Shubhamkumarpatel70/videovhat/internal/auth"
)

// Participant status values. A participant record exists from join until
// disconnect; only its status changes when it is paired into a room.
const (
	StatusAvailable = "available"
	StatusInRoom    = "in_room"
)

// Preferences are the match filters a participant supplied on its last
// find_match request. Empty fields mean "no preference". They live for the
// whole session so that a skip can reuse them.
type Preferences struct {
	Gender  string
	Country string
}

// Participant is one active connection. ConnID is the transport-level
// identifier and is unique across the registry for the connection's lifetime.
// Identity is nil for anonymous participants.
type Participant struct {
	ConnID      string
	Identity    *auth.Identity
	Name        string
	Country     string
	Gender      string
	IsAnonymous bool
	JoinedAt    time.Time
	Prefs       *Preferences

	status string
}

// Available reports whether the participant is currently searchable.
func (p *Participant) Available() bool {
	return p.status == StatusAvailable
}

// Registry is a mutex-guarded map of connected participants keyed by
// connection ID. It performs no I/O; presence broadcasts are the gateway's
// responsibility.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		participants: make(map[string]*Participant),
	}
}

// AddOrUpdate inserts a participant or overwrites an existing record with the
// same connection ID (a re-join). The participant enters in the available
// state. Stored preferences survive a re-join so that a skip after re-joining
// still has filters to reuse.
func (r *Registry) AddOrUpdate(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.participants[p.ConnID]; ok && p.Prefs == nil {
		p.Prefs = prev.Prefs
	}
	p.status = StatusAvailable
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	r.participants[p.ConnID] = p
}

// Remove deletes the participant with the given connection ID. Removing an
// unknown ID is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.participants, connID)
	r.mu.Unlock()
}

// Get returns the participant for the given connection ID, or nil if not
// present.
func (r *Registry) Get(connID string) *Participant {
	r.mu.RLock()
	p := r.participants[connID]
	r.mu.RUnlock()
	return p
}

// ListAvailable returns a snapshot of all participants not currently in a
// room. Order is unspecified.
func (r *Registry) ListAvailable() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.status == StatusAvailable {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the total number of registered participants, available or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.participants)
	r.mu.RUnlock()
	return n
}

// SetPreferences stores the participant's match filters for later reuse
// (skip without fresh preferences). Unknown IDs are ignored.
func (r *Registry) SetPreferences(connID string, prefs *Preferences) {
	r.mu.Lock()
	if p, ok := r.participants[connID]; ok {
		p.Prefs = prefs
	}
	r.mu.Unlock()
}

// ClaimPair atomically moves both participants from available to in-room.
// It returns false, and changes nothing, if either participant is missing
// or no longer available. This check-and-set is what prevents two concurrent
// match requests from booking the same participant twice.
func (r *Registry) ClaimPair(idA, idB string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, okA := r.participants[idA]
	b, okB := r.participants[idB]
	if !okA || !okB {
		return false
	}
	if a.status != StatusAvailable || b.status != StatusAvailable {
		return false
	}

	a.status = StatusInRoom
	b.status = StatusInRoom
	return true
}

// Release returns a participant to the available pool after its room is torn
// down. Unknown IDs are ignored.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	if p, ok := r.participants[connID]; ok {
		p.status = StatusAvailable
	}
	r.mu.Unlock()
}
