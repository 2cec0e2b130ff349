package relay

import (
	"sync"
	"time"
)

// DialogueState tracks whether a user's next plain-text message is dialogue
// input rather than a generation request.
type DialogueState int

const (
	// DialogueIdle is the default: plain text goes to the generation client.
	DialogueIdle DialogueState = iota
	// DialogueAwaitingToken captures the next plain text as a clone token.
	DialogueAwaitingToken
)

// Session is a point-in-time snapshot of one user's registry entry.
type Session struct {
	UserID    string
	ChatID    string // last chat the user was seen in; broadcast target
	UserName  string
	Dialogue  DialogueState
	FirstSeen time.Time
	LastSeen  time.Time
}

// Sessions is the per-user session arena. Entries are created on first
// reference and never torn down; all mutation goes through the registry lock
// so ownership is visible in one place. Per-user event ordering is the
// daemon's job (one worker per user); this lock only guards cross-user
// reads from stats, broadcast, and the dashboard.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*sessionRecord
}

type sessionRecord struct {
	chatID    string
	userName  string
	dialogue  DialogueState
	firstSeen time.Time
	lastSeen  time.Time
}

// NewSessions creates an empty session arena.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*sessionRecord)}
}

// Touch records that the user was seen in chatID at now, creating the
// session on first reference.
func (s *Sessions) Touch(userID, chatID, userName string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.m[userID]
	if !ok {
		rec = &sessionRecord{firstSeen: now}
		s.m[userID] = rec
	}
	rec.chatID = chatID
	if userName != "" {
		rec.userName = userName
	}
	rec.lastSeen = now
}

// Dialogue returns the user's dialogue state (DialogueIdle for unknown users).
func (s *Sessions) Dialogue(userID string) DialogueState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.m[userID]; ok {
		return rec.dialogue
	}
	return DialogueIdle
}

// SetDialogue transitions the user's dialogue state, creating the session
// if needed.
func (s *Sessions) SetDialogue(userID string, st DialogueState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.m[userID]
	if !ok {
		rec = &sessionRecord{firstSeen: time.Now()}
		s.m[userID] = rec
	}
	rec.dialogue = st
}

// Get returns a snapshot of the user's session.
func (s *Sessions) Get(userID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.m[userID]
	if !ok {
		return Session{}, false
	}
	return snapshot(userID, rec), true
}

// All returns snapshots of every known session, in no particular order.
// Broadcast iterates this set.
func (s *Sessions) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.m))
	for userID, rec := range s.m {
		out = append(out, snapshot(userID, rec))
	}
	return out
}

// Count returns the number of known users.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func snapshot(userID string, rec *sessionRecord) Session {
	return Session{
		UserID:    userID,
		ChatID:    rec.chatID,
		UserName:  rec.userName,
		Dialogue:  rec.dialogue,
		FirstSeen: rec.firstSeen,
		LastSeen:  rec.lastSeen,
	}
}
