package relay

import "sync"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistorySize is the default per-user conversation cap, in turns.
const DefaultHistorySize = 10

// Turn is one message in a conversation, tagged with its speaker role.
// Immutable once created.
type Turn struct {
	Role    string
	Content string
}

// ConversationStore keeps a bounded, ordered per-user log of turns. The log
// is capped FIFO: once full, the oldest turn is evicted on append. History is
// kept for operator stats and /clear; the generation call itself is
// stateless per message.
type ConversationStore struct {
	cap int

	mu sync.RWMutex
	m  map[string][]Turn
}

// NewConversationStore creates a ConversationStore with the given per-user
// cap. A non-positive cap falls back to DefaultHistorySize.
func NewConversationStore(cap int) *ConversationStore {
	if cap <= 0 {
		cap = DefaultHistorySize
	}
	return &ConversationStore{
		cap: cap,
		m:   make(map[string][]Turn),
	}
}

// Append pushes a turn to the tail of the user's log, evicting from the head
// to maintain the cap.
func (cs *ConversationStore) Append(userID string, turn Turn) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	log := append(cs.m[userID], turn)
	if len(log) > cs.cap {
		log = log[len(log)-cs.cap:]
	}
	cs.m[userID] = log
}

// History returns a copy of the user's log in arrival order.
func (cs *ConversationStore) History(userID string) []Turn {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	log := cs.m[userID]
	out := make([]Turn, len(log))
	copy(out, log)
	return out
}

// Clear resets the user's log to empty. The user stays known (broadcast
// still reaches them).
func (cs *ConversationStore) Clear(userID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.m[userID] = nil
}

// Len returns the number of turns currently held for the user.
func (cs *ConversationStore) Len(userID string) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.m[userID])
}

// UserCount returns the number of users that have ever sent a message.
func (cs *ConversationStore) UserCount() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.m)
}

// ActiveCount returns the number of users with a non-empty log.
func (cs *ConversationStore) ActiveCount() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	count := 0
	for _, log := range cs.m {
		if len(log) > 0 {
			count++
		}
	}
	return count
}
