// Package session implements the Session Manager of spec.md §4.8: a
// bounded, TTL-evicted in-memory registry of active dialogues, adapted from
// the teacher's LRU cache idiom (container/list + map, as in
// pkg/semantic-router's route cache) generalized to carry per-session
// dialogue buffers and reflection-trigger round counting.
package session

import (
	"container/list"
	"sync"
)

// Message is one buffered dialogue turn.
type Message struct {
	Role      string
	Content   string
	Timestamp int64
}

// Session is one active dialogue's state.
type Session struct {
	ID                   string
	PersonaID            string
	Buffer               []Message
	RoundsSinceReflection int
	LastActivity         int64

	element *list.Element // this session's node in the LRU list
}

// Manager is a bounded, TTL-evicted session registry.
type Manager struct {
	mu sync.Mutex

	maxSessions int
	ttlSeconds  int64

	lru     *list.List // front = most recently used
	entries map[string]*Session
}

// New builds a Session Manager with the given capacity and TTL (seconds).
func New(maxSessions int, ttlSeconds int) *Manager {
	return &Manager{
		maxSessions: maxSessions,
		ttlSeconds:  int64(ttlSeconds),
		lru:         list.New(),
		entries:     make(map[string]*Session),
	}
}

// Get returns the session, creating it if it doesn't exist, and marks it
// most-recently-used. now is a unix timestamp supplied by the caller so the
// manager stays deterministic and testable.
func (m *Manager) Get(sessionID, personaID string, now int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked(now)

	if s, ok := m.entries[sessionID]; ok {
		s.LastActivity = now
		m.lru.MoveToFront(s.element)
		return s
	}

	s := &Session{ID: sessionID, PersonaID: personaID, LastActivity: now}
	s.element = m.lru.PushFront(sessionID)
	m.entries[sessionID] = s

	m.evictOverCapacityLocked()
	return s
}

// Append records one dialogue turn and implements spec.md §4.8's
// reflection-trigger bookkeeping: rounds_since_reflection increments once
// per user→assistant pair. When an assistant message completes a round and
// the configured trigger is reached, Append returns the buffered window and
// resets both the buffer and the counter; otherwise it returns (nil, false).
func (m *Manager) Append(sessionID, personaID, role, content string, timestamp int64, triggerRounds int) ([]Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked(timestamp)

	s, ok := m.entries[sessionID]
	if !ok {
		s = &Session{ID: sessionID, PersonaID: personaID, LastActivity: timestamp}
		s.element = m.lru.PushFront(sessionID)
		m.entries[sessionID] = s
		m.evictOverCapacityLocked()
	} else {
		s.LastActivity = timestamp
		m.lru.MoveToFront(s.element)
	}

	s.Buffer = append(s.Buffer, Message{Role: role, Content: content, Timestamp: timestamp})

	if role == "assistant" && lastUserPrecedesAssistant(s.Buffer) {
		s.RoundsSinceReflection++
	}

	if triggerRounds > 0 && s.RoundsSinceReflection >= triggerRounds {
		window := s.Buffer
		s.Buffer = nil
		s.RoundsSinceReflection = 0
		return window, true
	}
	return nil, false
}

// lastUserPrecedesAssistant reports whether the message immediately before
// the just-appended assistant message was from the user, i.e. this
// assistant turn completes a round rather than following another
// assistant message.
func lastUserPrecedesAssistant(buf []Message) bool {
	if len(buf) < 2 {
		return false
	}
	return buf[len(buf)-2].Role == "user"
}

// Peek returns the session's current state without mutating LRU order, or
// (nil, false) if it doesn't exist or has expired.
func (m *Manager) Peek(sessionID string, now int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[sessionID]
	if !ok {
		return nil, false
	}
	if m.expired(s, now) {
		m.evictLocked(sessionID)
		return nil, false
	}
	cp := *s
	return &cp, true
}

// Sweep evicts every session whose TTL has lapsed as of now. Intended to be
// called periodically by the root Engine alongside the Forgetting Agent's
// pass.
func (m *Manager) Sweep(now int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictExpiredLocked(now)
}

// Size returns the number of currently tracked sessions.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) expired(s *Session, now int64) bool {
	return m.ttlSeconds > 0 && now-s.LastActivity > m.ttlSeconds
}

func (m *Manager) evictExpiredLocked(now int64) int {
	if m.ttlSeconds <= 0 {
		return 0
	}
	var expired []string
	for id, s := range m.entries {
		if m.expired(s, now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.evictLocked(id)
	}
	return len(expired)
}

func (m *Manager) evictOverCapacityLocked() {
	if m.maxSessions <= 0 {
		return
	}
	for len(m.entries) > m.maxSessions {
		back := m.lru.Back()
		if back == nil {
			return
		}
		m.evictLocked(back.Value.(string))
	}
}

func (m *Manager) evictLocked(sessionID string) {
	s, ok := m.entries[sessionID]
	if !ok {
		return
	}
	m.lru.Remove(s.element)
	delete(m.entries, sessionID)
}
