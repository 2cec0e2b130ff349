// Package telegram implements the relay Adapter for Telegram using the Bot API
// long-polling transport.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/garudnet/relaybot/internal/relay"
)

// pollTimeout is the long-poll timeout in seconds for getUpdates.
const pollTimeout = 30

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botAPI interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// commandMenu is registered with Telegram on connect so clients can offer
// command completion.
var commandMenu = []tgbotapi.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "help", Description: "Show help message"},
	{Command: "ping", Description: "Check bot latency"},
	{Command: "clear", Description: "Clear conversation history"},
	{Command: "clone", Description: "Register your own bot token"},
	{Command: "cancel", Description: "Cancel token registration"},
}

// Adapter implements relay.Adapter for Telegram via Bot API long polling.
type Adapter struct {
	api         botAPI
	botToken    string
	mu          sync.Mutex
	connected   bool
	closed      bool
	botUserID   string
	botUsername string
	inbound     chan relay.InboundMessage
	cancelFunc  context.CancelFunc
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	BotToken string // Telegram bot token
	// For testing: inject a mock API instead of the real Bot API client.
	API botAPI
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Adapter{
		api:      opts.API,
		botToken: opts.BotToken,
		inbound:  make(chan relay.InboundMessage, 100),
	}, nil
}

// Connect authenticates against the Bot API and registers the command menu.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real client if not injected (production path).
	if a.api == nil {
		bot, err := tgbotapi.NewBotAPI(a.botToken)
		if err != nil {
			return fmt.Errorf("telegram: create client: %w", err)
		}
		a.api = bot
	}

	me, err := a.api.GetMe()
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	a.botUserID = strconv.FormatInt(me.ID, 10)
	a.botUsername = me.UserName
	log.Printf("telegram: connected as @%s (ID: %s)", me.UserName, a.botUserID)

	if _, err := a.api.Request(tgbotapi.NewSetMyCommands(commandMenu...)); err != nil {
		// Menu registration is cosmetic; the bot still works without it.
		log.Printf("telegram: set command menu: %v", err)
	}

	a.connected = true
	return nil
}

// Listen starts the long-poll update loop and returns the inbound channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan relay.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	api := a.api
	a.mu.Unlock()

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := api.GetUpdatesChan(cfg)

	go func() {
		for {
			select {
			case <-listenCtx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				a.handleUpdate(upd)
			}
		}
	}()

	return a.inbound, nil
}

// Send delivers an outbound message and returns the Telegram message ID.
func (a *Adapter) Send(ctx context.Context, msg relay.OutboundMessage) (string, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return "", fmt.Errorf("telegram: not connected")
	}
	api := a.api
	a.mu.Unlock()

	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return "", err
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.HTML {
		out.ParseMode = tgbotapi.ModeHTML
	}
	if msg.ReplyToID != "" {
		if replyID, err := strconv.Atoi(msg.ReplyToID); err == nil {
			out.ReplyToMessageID = replyID
		}
	}
	if len(msg.Keyboard) > 0 {
		out.ReplyMarkup = buildKeyboard(msg.Keyboard)
	}

	sent, err := api.Send(out)
	if err != nil {
		return "", fmt.Errorf("telegram: send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Edit replaces the text of a previously sent message.
func (a *Adapter) Edit(ctx context.Context, chatIDStr, messageID, text string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("telegram: not connected")
	}
	api := a.api
	a.mu.Unlock()

	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q", messageID)
	}

	if _, err := api.Send(tgbotapi.NewEditMessageText(chatID, msgID, text)); err != nil {
		return fmt.Errorf("telegram: edit message: %w", err)
	}
	return nil
}

// Typing shows the typing chat action.
func (a *Adapter) Typing(ctx context.Context, chatIDStr string) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("telegram: not connected")
	}
	api := a.api
	a.mu.Unlock()

	chatID, err := parseChatID(chatIDStr)
	if err != nil {
		return err
	}
	if _, err := api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram: chat action: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.api != nil {
		a.api.StopReceivingUpdates()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Telegram user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// BotUsername returns the bot's Telegram username (available after Connect).
func (a *Adapter) BotUsername() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUsername
}

// handleUpdate converts one Telegram update to an InboundMessage. Button
// presses are acknowledged immediately so the client stops its spinner.
func (a *Adapter) handleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		q := upd.CallbackQuery
		if _, err := a.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			log.Printf("telegram: answer callback: %v", err)
		}
		if q.Message == nil || q.From == nil {
			return
		}
		a.deliver(relay.InboundMessage{
			Platform:     "telegram",
			ChatID:       strconv.FormatInt(q.Message.Chat.ID, 10),
			MessageID:    strconv.Itoa(q.Message.MessageID),
			UserID:       strconv.FormatInt(q.From.ID, 10),
			UserName:     displayName(q.From),
			CallbackID:   q.ID,
			CallbackData: q.Data,
			Timestamp:    time.Now(),
		})

	case upd.Message != nil:
		m := upd.Message
		if m.From == nil {
			return
		}
		a.deliver(relay.InboundMessage{
			Platform:  "telegram",
			ChatID:    strconv.FormatInt(m.Chat.ID, 10),
			MessageID: strconv.Itoa(m.MessageID),
			UserID:    strconv.FormatInt(m.From.ID, 10),
			UserName:  displayName(m.From),
			Text:      m.Text,
			Timestamp: m.Time(),
		})
	}
}

// deliver forwards to the inbound channel unless the adapter is closed.
func (a *Adapter) deliver(msg relay.InboundMessage) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	a.inbound <- msg
}

// displayName prefers the first name, falling back to the username.
func displayName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.UserName
}

// buildKeyboard translates keyboard rows into a Telegram inline keyboard.
func buildKeyboard(rows [][]relay.Button) tgbotapi.InlineKeyboardMarkup {
	var out [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var btns []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
		}
		if len(btns) > 0 {
			out = append(out, btns)
		}
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: out}
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}
