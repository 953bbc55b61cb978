// Package room owns the lifecycle of two-party rooms. The Manager is the only
// component that mutates a room's occupant list; everyone else holds rooms by
// value or looks them up by ID.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Room is a pairing of exactly two connections for the duration of one call.
type Room struct {
	ID        string
	Occupants [2]string
	StartedAt time.Time
}

// Other returns the occupant that is not connID, or "" if connID is not an
// occupant of this room.
func (r *Room) Other(connID string) string {
	switch connID {
	case r.Occupants[0]:
		return r.Occupants[1]
	case r.Occupants[1]:
		return r.Occupants[0]
	}
	return ""
}

// Has reports whether connID occupies this room.
func (r *Room) Has(connID string) bool {
	return connID == r.Occupants[0] || connID == r.Occupants[1]
}

// Manager indexes active rooms by room ID and by occupant. A connection
// occupies at most one room at a time; creating a room for an occupant that
// is already indexed would break that invariant, so callers must tear down
// first (the matchmaker's claim step guarantees this).
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Room
	byOccupant map[string]*Room
}

// NewManager creates an empty room Manager.
func NewManager() *Manager {
	return &Manager{
		byID:       make(map[string]*Room),
		byOccupant: make(map[string]*Room),
	}
}

// Create builds a fresh room for the two occupants and indexes it. It always
// succeeds.
func (m *Manager) Create(idA, idB string) *Room {
	r := &Room{
		ID:        uuid.New().String(),
		Occupants: [2]string{idA, idB},
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	m.byID[r.ID] = r
	m.byOccupant[idA] = r
	m.byOccupant[idB] = r
	m.mu.Unlock()
	return r
}

// Get returns the room with the given ID, or nil if it no longer exists.
// A nil result is not an error; it usually means the call already ended.
func (m *Manager) Get(roomID string) *Room {
	m.mu.RLock()
	r := m.byID[roomID]
	m.mu.RUnlock()
	return r
}

// GetByOccupant returns the room containing connID, or nil.
func (m *Manager) GetByOccupant(connID string) *Room {
	m.mu.RLock()
	r := m.byOccupant[connID]
	m.mu.RUnlock()
	return r
}

// DestroyByOccupant removes the room containing connID from the index and
// returns it so the caller can notify the other occupant. Returns nil if the
// occupant is not in any room; destroying twice is a harmless no-op the
// second time.
func (m *Manager) DestroyByOccupant(connID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byOccupant[connID]
	if !ok {
		return nil
	}
	delete(m.byID, r.ID)
	delete(m.byOccupant, r.Occupants[0])
	delete(m.byOccupant, r.Occupants[1])
	return r
}

// Count returns the number of active rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	n := len(m.byID)
	m.mu.RUnlock()
	return n
}
