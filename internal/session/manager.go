// Package session tracks the player bound to each client connection.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/cory-johannsen/manaserv/internal/game/equipment"
	"github.com/cory-johannsen/manaserv/internal/game/inventory"
)

var (
	// ErrSessionExists is returned by Open for a connection that already has a session.
	ErrSessionExists = errors.New("session: connection already has a session")
	// ErrNoSession is returned for a connection without a session.
	ErrNoSession = errors.New("session: no session for connection")
	// ErrAlreadyBound is returned by Bind when the session already has a character.
	ErrAlreadyBound = errors.New("session: character already selected")
	// ErrAlreadyConnected is returned by Bind when the character is bound on another connection.
	ErrAlreadyConnected = errors.New("session: character already connected")
)

// Session tracks one connected client and, once it has authenticated, the
// character it plays.
type Session struct {
	// ConnID is the network connection identifier.
	ConnID uuid.UUID
	// RemoteAddr is the client's address, for logging.
	RemoteAddr string
	// OpenedAt is when the connection was accepted.
	OpenedAt time.Time

	mu          sync.Mutex
	characterID int64
	name        string
	equipment   *equipment.Equipment
	inventory   *inventory.Backpack
}

// Character returns the bound character's ID and name; ok is false before Bind.
func (s *Session) Character() (id int64, name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.characterID, s.name, s.characterID != 0
}

// WithEquipment runs fn with exclusive access to the character's equipment.
//
// Postcondition: Returns ErrNoSession wrapped when no character is bound,
// otherwise fn's error.
func (s *Session) WithEquipment(fn func(*equipment.Equipment) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.characterID == 0 {
		return fmt.Errorf("%w: no character selected", ErrNoSession)
	}
	return fn(s.equipment)
}

// WithInventory runs fn with exclusive access to the character's backpack.
// Equipment and inventory share one lock, so fn must not call WithEquipment.
//
// Postcondition: Returns ErrNoSession wrapped when no character is bound,
// otherwise fn's error.
func (s *Session) WithInventory(fn func(*inventory.Backpack) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.characterID == 0 {
		return fmt.Errorf("%w: no character selected", ErrNoSession)
	}
	return fn(s.inventory)
}

// Manager tracks all sessions keyed by connection ID.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*Session
	characters map[int64]uuid.UUID // characterID → connID
}

// NewManager creates an empty session Manager.
func NewManager() *Manager {
	return &Manager{
		sessions:   make(map[uuid.UUID]*Session),
		characters: make(map[int64]uuid.UUID),
	}
}

// Open creates the session for a newly accepted connection.
//
// Precondition: connID must be non-zero.
// Postcondition: Returns the new Session, or ErrSessionExists.
func (m *Manager) Open(connID uuid.UUID, remoteAddr string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[connID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, connID)
	}
	s := &Session{ConnID: connID, RemoteAddr: remoteAddr, OpenedAt: time.Now()}
	m.sessions[connID] = s
	return s, nil
}

// Bind attaches a character to the connection's session.
//
// Precondition: characterID must be > 0; eq and inv must be non-nil.
// Postcondition: On success the session reports the character and
// no other session may bind it until this one is closed.
func (m *Manager) Bind(connID uuid.UUID, characterID int64, name string, eq *equipment.Equipment, inv *inventory.Backpack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, connID)
	}
	if owner, taken := m.characters[characterID]; taken {
		if owner == connID {
			return fmt.Errorf("%w: character %d", ErrAlreadyBound, characterID)
		}
		return fmt.Errorf("%w: character %d", ErrAlreadyConnected, characterID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.characterID != 0 {
		return fmt.Errorf("%w: character %d", ErrAlreadyBound, s.characterID)
	}
	s.characterID = characterID
	s.name = name
	s.equipment = eq
	s.inventory = inv
	m.characters[characterID] = connID
	return nil
}

// Get returns the session for connID.
func (m *Manager) Get(connID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// CharacterOf returns the character bound to connID's session.
func (m *Manager) CharacterOf(connID uuid.UUID) (id int64, name string, ok bool) {
	s, found := m.Get(connID)
	if !found {
		return 0, "", false
	}
	return s.Character()
}

// ByCharacter returns the session currently playing characterID.
func (m *Manager) ByCharacter(characterID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	connID, ok := m.characters[characterID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[connID]
	return s, ok
}

// Close removes the session for connID and frees its character.
//
// Postcondition: Returns the removed session, or false if none existed.
func (m *Manager) Close(connID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return nil, false
	}
	delete(m.sessions, connID)
	if id, _, bound := s.Character(); bound {
		delete(m.characters, id)
	}
	return s, true
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Characters returns the IDs of all bound characters in ascending order.
func (m *Manager) Characters() []int64 {
	m.mu.RLock()
	ids := lo.Keys(m.characters)
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
