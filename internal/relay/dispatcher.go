package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/garudnet/relaybot/internal/genai"
)

// User-visible reply texts.
const (
	blockedText     = "🚫 You are blocked from using this bot."
	rateLimitText   = "🚫 You're sending messages too fast. Please wait a moment."
	unauthorizedText = "🚫 This command is only available for admins."
	apologyText     = "⚠️ An error occurred while processing your message. Please try again later."
	noContentText   = "I'm sorry, I couldn't generate a response at this moment."
	clearedText     = "🗑️ Your conversation history has been cleared."
	unknownCmdText  = "Unknown command. Use /help to see what I can do."
	nothingToCancel = "Nothing to cancel."
)

// chatStage is one step of the plain-text pipeline. It returns false to stop
// the pipeline (the stage has already replied or decided to drop the event).
type chatStage func(ctx context.Context, msg InboundMessage) bool

// Dispatcher routes inbound events: commands to their named handlers
// (admin-gated where noted) and plain text through the chat pipeline
// (block gate → dialogue gate → rate gate → history → generation).
type Dispatcher struct {
	adapter  Adapter
	gen      genai.Generator
	limiter  *RateLimiter
	history  *ConversationStore
	sessions *Sessions
	clone    *CloneDialogue

	admins      map[string]bool
	ownerID     string
	botUsername string
	maxLen      int
	networkURL  string
	supportURL  string
	websiteURL  string

	blockMu sync.Mutex
	blocked map[string]bool

	pipeline []chatStage
	now      func() time.Time
	out      io.Writer
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Adapter   Adapter
	Generator genai.Generator
	Limiter   *RateLimiter
	History   *ConversationStore
	Sessions  *Sessions
	Clone     *CloneDialogue

	Admins           map[string]bool // admin-gated command access
	OwnerID          string          // owner-only command access
	BotUsername      string          // for stripping /cmd@botname
	BlockedUsers     []string        // initial block list from config
	MaxMessageLength int             // outbound chunk size
	NetworkURL       string
	SupportURL       string
	WebsiteURL       string

	Now func() time.Time // defaults to time.Now; injectable for tests
	Out io.Writer        // defaults to os.Stdout
}

// NewDispatcher creates a Dispatcher and composes the chat pipeline once.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: dispatcher: adapter is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("relay: dispatcher: generator is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("relay: dispatcher: limiter is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("relay: dispatcher: history is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: dispatcher: sessions is required")
	}
	if opts.Clone == nil {
		return nil, fmt.Errorf("relay: dispatcher: clone dialogue is required")
	}
	maxLen := opts.MaxMessageLength
	if maxLen <= 0 {
		maxLen = 4000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	blocked := make(map[string]bool, len(opts.BlockedUsers))
	for _, id := range opts.BlockedUsers {
		if id != "" {
			blocked[id] = true
		}
	}

	d := &Dispatcher{
		adapter:     opts.Adapter,
		gen:         opts.Generator,
		limiter:     opts.Limiter,
		history:     opts.History,
		sessions:    opts.Sessions,
		clone:       opts.Clone,
		admins:      opts.Admins,
		ownerID:     opts.OwnerID,
		botUsername: opts.BotUsername,
		maxLen:      maxLen,
		networkURL:  opts.NetworkURL,
		supportURL:  opts.SupportURL,
		websiteURL:  opts.WebsiteURL,
		blocked:     blocked,
		now:         now,
		out:         out,
	}

	// The plain-text path is an explicit ordered pipeline, composed once.
	d.pipeline = []chatStage{
		d.blockGate,
		d.dialogueGate,
		d.rateGate,
		d.recordUserTurn,
		d.generateReply,
	}
	return d, nil
}

// Handle classifies and routes a single inbound event. Commands go to their
// named handlers; anything else runs the chat pipeline.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) {
	d.sessions.Touch(msg.UserID, msg.ChatID, msg.UserName, msg.Timestamp)

	if msg.IsCallback() {
		d.handleCallback(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if cmd, args, ok := d.parseCommand(text); ok {
		fmt.Fprintf(d.out, "relay: dispatcher: recv command /%s [user=%s]\n", cmd, msg.UserID)
		d.handleCommand(ctx, msg, cmd, args)
		return
	}

	for _, stage := range d.pipeline {
		if !stage(ctx, msg) {
			return
		}
	}
}

// parseCommand recognizes "/cmd arg..." including the "/cmd@botname" form.
func (d *Dispatcher) parseCommand(text string) (cmd string, args []string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd = fields[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		mention := cmd[at+1:]
		if d.botUsername != "" && !strings.EqualFold(mention, d.botUsername) {
			// Addressed to a different bot in a group chat.
			return "", nil, false
		}
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:], true
}

// handleCommand dispatches one named command.
func (d *Dispatcher) handleCommand(ctx context.Context, msg InboundMessage, cmd string, args []string) {
	switch cmd {
	case "start":
		d.cmdStart(ctx, msg)
	case "help":
		d.reply(ctx, msg, OutboundMessage{Text: helpText, HTML: true})
	case "ping":
		d.cmdPing(ctx, msg)
	case "stats":
		d.cmdStats(ctx, msg)
	case "clear":
		d.history.Clear(msg.UserID)
		d.reply(ctx, msg, OutboundMessage{Text: clearedText})
	case "broadcast":
		d.cmdBroadcast(ctx, msg, args)
	case "clone":
		d.reply(ctx, msg, OutboundMessage{Text: d.clone.Begin(msg.UserID)})
	case "cancel":
		d.cmdCancel(ctx, msg)
	case "list_clones":
		d.cmdListClones(ctx, msg)
	case "block":
		d.cmdBlock(ctx, msg, args, true)
	case "unblock":
		d.cmdBlock(ctx, msg, args, false)
	default:
		d.reply(ctx, msg, OutboundMessage{Text: unknownCmdText})
	}
}

// --- Chat pipeline stages ---

// blockGate stops events from blocked users with a visible notice.
func (d *Dispatcher) blockGate(ctx context.Context, msg InboundMessage) bool {
	if !d.IsBlocked(msg.UserID) {
		return true
	}
	d.reply(ctx, msg, OutboundMessage{Text: blockedText})
	return false
}

// dialogueGate captures plain text for an in-progress clone dialogue. Checked
// before the rate limiter so token submissions are never rate-limited into a
// stuck dialogue.
func (d *Dispatcher) dialogueGate(ctx context.Context, msg InboundMessage) bool {
	if d.sessions.Dialogue(msg.UserID) != DialogueAwaitingToken {
		return true
	}
	reply := d.clone.SubmitToken(msg.UserID, msg.UserName, msg.Text)
	d.reply(ctx, msg, OutboundMessage{Text: reply})
	return false
}

// rateGate applies sliding-window admission control.
func (d *Dispatcher) rateGate(ctx context.Context, msg InboundMessage) bool {
	if d.limiter.Admit(msg.UserID, d.now()) {
		return true
	}
	log.Printf("relay: rate limit exceeded for user %s", msg.UserID)
	d.reply(ctx, msg, OutboundMessage{Text: rateLimitText})
	return false
}

// recordUserTurn appends the admitted message to the conversation log.
func (d *Dispatcher) recordUserTurn(ctx context.Context, msg InboundMessage) bool {
	d.history.Append(msg.UserID, Turn{Role: RoleUser, Content: msg.Text})
	return true
}

// generateReply forwards the text to the generation service and relays the
// reply in order-preserving chunks. The assistant turn is recorded only on
// success.
func (d *Dispatcher) generateReply(ctx context.Context, msg InboundMessage) bool {
	if err := d.adapter.Typing(ctx, msg.ChatID); err != nil {
		log.Printf("relay: typing indicator for chat %s: %v", msg.ChatID, err)
	}

	text, err := d.gen.Generate(ctx, msg.Text)
	if err != nil {
		if errors.Is(err, genai.ErrNoContent) {
			log.Printf("relay: no content generated for user %s", msg.UserID)
			d.reply(ctx, msg, OutboundMessage{Text: noContentText})
			return false
		}
		kind := "terminal"
		if genai.IsTransient(err) {
			kind = "transient"
		}
		log.Printf("relay: generation failed (%s) for user %s: %v", kind, msg.UserID, err)
		d.reply(ctx, msg, OutboundMessage{Text: apologyText})
		return false
	}

	// A failed segment is reported and the remaining segments are still
	// attempted, never silently dropped.
	for i, segment := range Split(text, d.maxLen) {
		if _, err := d.adapter.Send(ctx, OutboundMessage{ChatID: msg.ChatID, Text: segment}); err != nil {
			log.Printf("relay: send segment %d to chat %s: %v", i+1, msg.ChatID, err)
		}
	}

	d.history.Append(msg.UserID, Turn{Role: RoleAssistant, Content: text})
	return true
}

// --- Command handlers ---

const helpText = `<b>🤖 Bot Commands:</b>

/start - Start the bot
/help - Show this help message
/ping - Check bot latency
/stats - Get bot statistics (Admin only)
/clear - Clear conversation history
/clone - Register your own bot token
/cancel - Cancel token registration
/list_clones - List registered tokens (Owner only)

<b>🔧 Admin Commands:</b>
/broadcast - Send message to all users
/block - Block a user
/unblock - Unblock a user`

func (d *Dispatcher) cmdStart(ctx context.Context, msg InboundMessage) {
	if d.IsBlocked(msg.UserID) {
		d.reply(ctx, msg, OutboundMessage{Text: blockedText})
		return
	}

	var keyboard [][]Button
	var row []Button
	if d.networkURL != "" {
		row = append(row, Button{Label: "🌐 Network", URL: d.networkURL})
	}
	if d.supportURL != "" {
		row = append(row, Button{Label: "🆘 Support", URL: d.supportURL})
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	row = nil
	if d.websiteURL != "" {
		row = append(row, Button{Label: "🌐 Website", URL: d.websiteURL})
	}
	row = append(row, Button{Label: "📜 Commands", Data: "help"}, Button{Label: "👑 Owner", Data: "owner_info"})
	keyboard = append(keyboard, row)

	name := msg.UserName
	if name == "" {
		name = "there"
	}
	welcome := fmt.Sprintf(
		"👋 Hello, %s!\n\n"+
			"I'm an AI chatbot that can understand and respond in many languages.\n\n"+
			"Just send me a message to start chatting, or use /help to see all commands.",
		name)

	d.reply(ctx, msg, OutboundMessage{Text: welcome, HTML: true, Keyboard: keyboard})
	log.Printf("relay: user started: %s (%s)", msg.UserID, msg.UserName)
}

// cmdPing reports round-trip latency by editing the sent message.
func (d *Dispatcher) cmdPing(ctx context.Context, msg InboundMessage) {
	start := d.now()
	msgID, err := d.adapter.Send(ctx, OutboundMessage{ChatID: msg.ChatID, Text: "🏓 Pong!"})
	if err != nil {
		log.Printf("relay: ping send to chat %s: %v", msg.ChatID, err)
		return
	}
	latency := d.now().Sub(start)

	edited := fmt.Sprintf("🏓 Pong!\n⏳ Bot Latency: %.2fms", float64(latency.Microseconds())/1000)
	if err := d.adapter.Edit(ctx, msg.ChatID, msgID, edited); err != nil {
		log.Printf("relay: ping edit in chat %s: %v", msg.ChatID, err)
	}
}

func (d *Dispatcher) cmdStats(ctx context.Context, msg InboundMessage) {
	if !d.requireAdmin(ctx, msg) {
		return
	}
	stats := fmt.Sprintf(
		"<b>📊 Bot Statistics</b>\n\n"+
			"👥 Total Users: %d\n"+
			"💬 Active Conversations: %d\n"+
			"🔄 Rate Limited Users: %d",
		d.sessions.Count(), d.history.ActiveCount(), d.limiter.SaturatedCount(d.now()))
	d.reply(ctx, msg, OutboundMessage{Text: stats, HTML: true})
}

// cmdBroadcast fans the message out over every known user. Delivery failures
// are logged and do not abort the rest; the handler reports the success count.
func (d *Dispatcher) cmdBroadcast(ctx context.Context, msg InboundMessage, args []string) {
	if !d.requireAdmin(ctx, msg) {
		return
	}
	if len(args) == 0 {
		d.reply(ctx, msg, OutboundMessage{Text: "Usage: /broadcast <message>"})
		return
	}

	text := "📢 Broadcast:\n\n" + strings.Join(args, " ")
	delivered := 0
	for _, sess := range d.sessions.All() {
		if sess.ChatID == "" {
			continue
		}
		if _, err := d.adapter.Send(ctx, OutboundMessage{ChatID: sess.ChatID, Text: text}); err != nil {
			log.Printf("relay: broadcast to user %s: %v", sess.UserID, err)
			continue
		}
		delivered++
	}
	d.reply(ctx, msg, OutboundMessage{Text: fmt.Sprintf("📢 Broadcast sent to %d users.", delivered)})
}

func (d *Dispatcher) cmdCancel(ctx context.Context, msg InboundMessage) {
	if d.sessions.Dialogue(msg.UserID) != DialogueAwaitingToken {
		d.reply(ctx, msg, OutboundMessage{Text: nothingToCancel})
		return
	}
	d.reply(ctx, msg, OutboundMessage{Text: d.clone.Cancel(msg.UserID)})
}

func (d *Dispatcher) cmdListClones(ctx context.Context, msg InboundMessage) {
	if msg.UserID != d.ownerID {
		d.reply(ctx, msg, OutboundMessage{Text: unauthorizedText})
		return
	}

	recs, err := d.clone.Records()
	if err != nil {
		log.Printf("relay: list clones: %v", err)
		d.reply(ctx, msg, OutboundMessage{Text: "An error occurred while listing registered tokens."})
		return
	}
	if len(recs) == 0 {
		d.reply(ctx, msg, OutboundMessage{Text: "No bot tokens registered yet."})
		return
	}

	var b strings.Builder
	b.WriteString("Registered Bot Tokens:\n")
	for _, rec := range recs {
		fmt.Fprintf(&b, "- User ID: %s (Name: %s)\n  Token (first 10 chars): %s...\n",
			rec.OwnerUserID, rec.OwnerDisplayName, truncateToken(rec.Token))
	}
	d.reply(ctx, msg, OutboundMessage{Text: b.String()})
}

func (d *Dispatcher) cmdBlock(ctx context.Context, msg InboundMessage, args []string, block bool) {
	if !d.requireAdmin(ctx, msg) {
		return
	}
	verb := "block"
	if !block {
		verb = "unblock"
	}
	if len(args) == 0 {
		d.reply(ctx, msg, OutboundMessage{Text: fmt.Sprintf("Usage: /%s <user-id>", verb)})
		return
	}

	target := args[0]
	d.blockMu.Lock()
	if block {
		d.blocked[target] = true
	} else {
		delete(d.blocked, target)
	}
	d.blockMu.Unlock()

	log.Printf("relay: admin %s %sed user %s", msg.UserID, verb, target)
	d.reply(ctx, msg, OutboundMessage{Text: fmt.Sprintf("User %s has been %sed.", target, verb)})
}

// handleCallback answers inline-button presses by editing the message the
// button was attached to.
func (d *Dispatcher) handleCallback(ctx context.Context, msg InboundMessage) {
	var text string
	switch msg.CallbackData {
	case "help":
		text = strings.ReplaceAll(strings.ReplaceAll(helpText, "<b>", ""), "</b>", "")
	case "owner_info":
		text = fmt.Sprintf("The bot owner's user ID is: %s\n\nThis ID is for informational purposes only.", d.ownerID)
	default:
		text = "Unknown button action."
	}
	if err := d.adapter.Edit(ctx, msg.ChatID, msg.MessageID, text); err != nil {
		log.Printf("relay: callback edit in chat %s: %v", msg.ChatID, err)
	}
}

// --- Helpers ---

// IsBlocked reports whether the user is on the block list.
func (d *Dispatcher) IsBlocked(userID string) bool {
	d.blockMu.Lock()
	defer d.blockMu.Unlock()
	return d.blocked[userID]
}

// BlockedCount returns the current block list size.
func (d *Dispatcher) BlockedCount() int {
	d.blockMu.Lock()
	defer d.blockMu.Unlock()
	return len(d.blocked)
}

// requireAdmin enforces the admin gate with a uniform visible refusal.
func (d *Dispatcher) requireAdmin(ctx context.Context, msg InboundMessage) bool {
	if d.admins[msg.UserID] {
		return true
	}
	d.reply(ctx, msg, OutboundMessage{Text: unauthorizedText})
	return false
}

// reply sends to the originating chat, logging failures.
func (d *Dispatcher) reply(ctx context.Context, msg InboundMessage, out OutboundMessage) {
	out.ChatID = msg.ChatID
	if _, err := d.adapter.Send(ctx, out); err != nil {
		log.Printf("relay: reply to chat %s: %v", msg.ChatID, err)
	}
}

func truncateToken(token string) string {
	if len(token) <= 10 {
		return token
	}
	return token[:10]
}
