// Package match pairs a searching participant with a compatible available
// one and allocates a room for them. Selection is uniformly random among the
// compatible candidates rather than "best match".
package match

import (
	"math/rand"
	"sync"

	"github.com/Shubhamkumarpatel70/videovhat/internal/registry"
	"github.com/Shubhamkumarpatel70/videovhat/internal/room"
)

// Matchmaker selects partners from the registry and creates rooms. The
// critical section (select a candidate, claim both participants, create the
// room) runs under a single mutex so that concurrent match requests can
// never double-book a participant into two rooms.
type Matchmaker struct {
	mu       sync.Mutex
	registry *registry.Registry
	rooms    *room.Manager
	rnd      *rand.Rand
}

// New creates a Matchmaker over the given registry and room manager.
func New(reg *registry.Registry, rooms *room.Manager, seed int64) *Matchmaker {
	return &Matchmaker{
		registry: reg,
		rooms:    rooms,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// Compatible reports whether candidate satisfies the preferences. A nil or
// empty preference set matches everyone. Anonymous candidates are exempt
// from preference filtering entirely; they match any filter.
func Compatible(candidate *registry.Participant, prefs *registry.Preferences) bool {
	if prefs == nil {
		return true
	}
	if candidate.IsAnonymous {
		return true
	}
	if prefs.Gender != "" && candidate.Gender != prefs.Gender {
		return false
	}
	if prefs.Country != "" && candidate.Country != prefs.Country {
		return false
	}
	return true
}

// FindMatch searches for a compatible available participant for requesterID.
// On success both participants are atomically removed from the available set,
// a room is created, and the room plus the chosen peer are returned. When no
// candidate fits, it returns (nil, nil) and leaves all state unchanged.
//
// The supplied preferences are stored on the requester for later reuse; pass
// nil to reuse whatever the requester stored on a previous request.
func (m *Matchmaker) FindMatch(requesterID string, prefs *registry.Preferences) (*room.Room, *registry.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requester := m.registry.Get(requesterID)
	if requester == nil || !requester.Available() {
		return nil, nil
	}

	if prefs != nil {
		m.registry.SetPreferences(requesterID, prefs)
	} else {
		prefs = requester.Prefs
	}

	candidates := make([]*registry.Participant, 0)
	for _, p := range m.registry.ListAvailable() {
		if p.ConnID == requesterID {
			continue
		}
		if Compatible(p, prefs) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	peer := candidates[m.rnd.Intn(len(candidates))]

	// The candidate list is a snapshot; the claim re-checks availability so a
	// disconnect between snapshot and claim cannot slip through.
	if !m.registry.ClaimPair(requesterID, peer.ConnID) {
		return nil, nil
	}

	return m.rooms.Create(requesterID, peer.ConnID), peer
}
