package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent messages,
// edits, and typing indicators, and allows simulating inbound messages via
// SimulateInbound.
type MockAdapter struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan InboundMessage
	sent        []OutboundMessage
	edits       []MockEdit
	typingChats []string
	botUserID   string
	msgCounter  int
	failChats   map[string]bool // chats whose sends fail
	failNext    int             // number of upcoming sends to fail
}

// MockEdit records one Edit call.
type MockEdit struct {
	ChatID    string
	MessageID string
	Text      string
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:   make(chan InboundMessage, 100),
		failChats: make(map[string]bool),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and returns a synthetic message ID.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", fmt.Errorf("mock adapter: not connected")
	}
	if m.failNext > 0 {
		m.failNext--
		return "", fmt.Errorf("mock adapter: send failed (injected)")
	}
	if m.failChats[msg.ChatID] {
		return "", fmt.Errorf("mock adapter: send to %s failed (injected)", msg.ChatID)
	}
	m.msgCounter++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", m.msgCounter), nil
}

// Edit records the edit.
func (m *MockAdapter) Edit(ctx context.Context, chatID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.edits = append(m.edits, MockEdit{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

// Typing records the typing indicator.
func (m *MockAdapter) Typing(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.typingChats = append(m.typingChats, chatID)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// FailSendsTo makes every send to chatID fail.
func (m *MockAdapter) FailSendsTo(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failChats[chatID] = true
}

// FailNextSends makes the next n sends fail regardless of target.
func (m *MockAdapter) FailNextSends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Edits returns a copy of all recorded edits.
func (m *MockAdapter) Edits() []MockEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockEdit, len(m.edits))
	copy(out, m.edits)
	return out
}

// TypingChats returns the chats that received typing indicators.
func (m *MockAdapter) TypingChats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.typingChats))
	copy(out, m.typingChats)
	return out
}
