package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory builds the session for a new id.
type Factory func(id string) (*Session, error)

// Limits bounds how many sessions a Manager keeps in memory. Zero values disable the bound.
type Limits struct {
	// IdleTimeout drops sessions not touched for this long.
	IdleTimeout time.Duration
	// MaxSessions caps live sessions; the least recently used idle session goes first.
	MaxSessions int
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager keeps one Session per browser.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	factory  Factory
	limits   Limits
	now      func() time.Time
}

// NewManager returns a Manager that builds sessions with factory and evicts them per limits.
func NewManager(factory Factory, limits Limits) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		factory:  factory,
		limits:   limits,
		now:      time.Now,
	}
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.session, true
}

// GetOrCreate returns the session for id. An unknown but well-formed id is rebuilt under
// the same id so stored settings survive a restart or an eviction; anything else gets a
// new id. created reports whether a new session was built.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.sessions[id]; ok && id != "" {
		e.lastSeen = now
		return e.session, false, nil
	}
	newID := id
	if _, perr := uuid.Parse(id); perr != nil {
		newID = uuid.NewString()
	}
	s, err = m.factory(newID)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	m.pruneLocked(now, 1)
	m.sessions[newID] = &entry{session: s, lastSeen: now}
	return s, true, nil
}

// Prune drops idle sessions past the idle timeout and returns how many went.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(m.now(), 0)
}

// pruneLocked evicts expired sessions, then least recently used ones until room more
// sessions fit under MaxSessions. Sessions with a turn in flight are never evicted.
func (m *Manager) pruneLocked(now time.Time, room int) int {
	evicted := 0
	if ttl := m.limits.IdleTimeout; ttl > 0 {
		for id, e := range m.sessions {
			if now.Sub(e.lastSeen) > ttl && !e.session.Busy() {
				delete(m.sessions, id)
				evicted++
			}
		}
	}
	if limit := m.limits.MaxSessions; limit > 0 {
		for len(m.sessions)+room > limit {
			oldest := ""
			var oldestSeen time.Time
			for id, e := range m.sessions {
				if e.session.Busy() {
					continue
				}
				if oldest == "" || e.lastSeen.Before(oldestSeen) {
					oldest, oldestSeen = id, e.lastSeen
				}
			}
			if oldest == "" {
				break
			}
			delete(m.sessions, oldest)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[session] evicted %d idle sessions, %d live", evicted, len(m.sessions))
	}
	return evicted
}

// Delete forgets the session for id.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
