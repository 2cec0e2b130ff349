// Package relay bridges a chat platform to a generative-text service: it
// routes inbound user messages through per-user admission and dialogue state,
// forwards text to the generation client, and relays replies back in
// platform-sized chunks.
package relay

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message delivery for a single
// chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message and returns the platform message ID
	// of the sent message (used for later edits).
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID, messageID, text string) error

	// Typing shows a typing indicator in the chat, where the platform
	// supports one. Best-effort.
	Typing(ctx context.Context, chatID string) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message or button press received from the
// chat platform.
type InboundMessage struct {
	Platform     string    // e.g. "telegram", "discord", "slack"
	ChatID       string    // platform-specific chat/channel identifier
	MessageID    string    // platform-specific message identifier
	UserID       string    // stable opaque user identifier
	UserName     string    // human-readable display name
	Text         string    // raw message text (empty for pure button presses)
	CallbackID   string    // button-press acknowledgment handle (empty for messages)
	CallbackData string    // data payload of a pressed inline button
	Timestamp    time.Time // when the message was sent
}

// IsCallback reports whether the event is an inline-button press rather
// than a typed message.
func (m InboundMessage) IsCallback() bool {
	return m.CallbackData != ""
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChatID    string     // target chat/channel
	ReplyToID string     // message to reply to (empty for a plain send)
	Text      string     // message text
	HTML      bool       // render Text as HTML where the platform supports it
	Keyboard  [][]Button // inline keyboard rows (optional)
}

// Button is one inline keyboard button: either a link (URL set) or a
// callback button (Data set).
type Button struct {
	Label string
	URL   string
	Data  string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
