package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/garudnet/relaybot/internal/relay"
)

// --- Mock Slack clients ---

type mockClient struct {
	mu          sync.Mutex
	authErr     error
	posted      []postedMessage
	postErr     error
	updates     []updatedMessage
	updateErr   error
	users       map[string]*slackapi.User
	postCounter int
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

type updatedMessage struct {
	channelID string
	timestamp string
}

func newMockClient() *mockClient {
	return &mockClient{users: make(map[string]*slackapi.User)}
}

func (m *mockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &slackapi.AuthTestResponse{UserID: "BOT_USER_ID", User: "relaybot"}, nil
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.postCounter++
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, fmt.Sprintf("171717.%06d", m.postCounter), nil
}

func (m *mockClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return "", "", "", m.updateErr
	}
	m.updates = append(m.updates, updatedMessage{channelID: channelID, timestamp: timestamp})
	return channelID, timestamp, "", nil
}

func (m *mockClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

type mockSocket struct {
	events chan socketmode.Event
	acks   int
	mu     sync.Mutex
}

func newMockSocket() *mockSocket {
	return &mockSocket{events: make(chan socketmode.Event, 10)}
}

func (m *mockSocket) Run() error                        { return nil }
func (m *mockSocket) EventsChan() chan socketmode.Event { return m.events }
func (m *mockSocket) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockClient, *mockSocket) {
	t.Helper()
	client := newMockClient()
	socket := newMockSocket()
	a, err := New(AdapterOpts{Client: client, Socket: socket})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, socket
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{AppToken: "xapp-1"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNew_RequiresAppToken(t *testing.T) {
	_, err := New(AdapterOpts{Client: newMockClient()})
	if err == nil {
		t.Fatal("expected error for missing app token")
	}
}

// --- Connect tests ---

func TestConnect_SetsBotUserID(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if a.BotUserID() != "BOT_USER_ID" {
		t.Errorf("bot user id = %q", a.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockClient()
	client.authErr = fmt.Errorf("invalid_auth")
	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocket()})
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
}

// --- Listen tests ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockClient(), Socket: newMockSocket()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_ConvertsMessages(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.mu.Lock()
	client.users["U_ALICE"] = &slackapi.User{
		Profile:  slackapi.UserProfile{DisplayName: "Alice"},
		RealName: "Alice A",
	}
	client.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := a.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(&slackevents.MessageEvent{
		Channel:   "C1",
		User:      "U_ALICE",
		Text:      "hello",
		TimeStamp: "1717171717.000100",
	})

	select {
	case msg := <-ch:
		if msg.Platform != "slack" {
			t.Errorf("platform = %q", msg.Platform)
		}
		if msg.ChatID != "C1" || msg.UserID != "U_ALICE" || msg.Text != "hello" {
			t.Errorf("msg = %+v", msg)
		}
		if msg.UserName != "Alice" {
			t.Errorf("user name = %q, want Alice", msg.UserName)
		}
		if msg.MessageID != "1717171717.000100" {
			t.Errorf("message id = %q", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
}

func TestHandleMessage_FiltersSelfAndSubtypes(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := a.Listen(ctx)

	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "BOT_USER_ID", Text: "self"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", BotID: "B1", Text: "bot"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", SubType: "message_changed", Text: "edit"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", Text: "real", TimeStamp: "1.0"})

	select {
	case msg := <-ch:
		if msg.Text != "real" {
			t.Errorf("expected real message, got %q", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestHandleInteraction_ButtonPress(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := a.Listen(ctx)

	a.handleInteraction(slackapi.InteractionCallback{
		Type:      slackapi.InteractionTypeBlockActions,
		TriggerID: "trig-1",
		User:      slackapi.User{ID: "U1"},
		Channel:   slackapi.Channel{GroupConversation: slackapi.GroupConversation{Conversation: slackapi.Conversation{ID: "C1"}}},
		Message:   slackapi.Message{Msg: slackapi.Msg{Timestamp: "9.9"}},
		ActionCallback: slackapi.ActionCallbacks{
			BlockActions: []*slackapi.BlockAction{{ActionID: "help"}},
		},
	})

	select {
	case msg := <-ch:
		if !msg.IsCallback() {
			t.Fatal("expected callback event")
		}
		if msg.CallbackData != "help" || msg.ChatID != "C1" || msg.MessageID != "9.9" {
			t.Errorf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}
}

// --- Send tests ---

func TestSend_SimpleText(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	id, err := a.Send(context.Background(), relay.OutboundMessage{ChatID: "C1", Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Error("expected message timestamp as id")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.posted) != 1 || client.posted[0].channelID != "C1" {
		t.Errorf("posted = %+v", client.posted)
	}
}

func TestSend_NoChannel(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if _, err := a.Send(context.Background(), relay.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error for no channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockClient(), Socket: newMockSocket()})
	if _, err := a.Send(context.Background(), relay.OutboundMessage{ChatID: "C1", Text: "x"}); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postErr = fmt.Errorf("channel_not_found")
	if _, err := a.Send(context.Background(), relay.OutboundMessage{ChatID: "C1", Text: "x"}); err == nil {
		t.Fatal("expected post error")
	}
}

// --- Edit tests ---

func TestEdit(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	if err := a.Edit(context.Background(), "C1", "9.9", "new text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
	if client.updates[0].channelID != "C1" || client.updates[0].timestamp != "9.9" {
		t.Errorf("update = %+v", client.updates[0])
	}
}

func TestEdit_Error(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.updateErr = fmt.Errorf("message_not_found")
	if err := a.Edit(context.Background(), "C1", "9.9", "x"); err == nil {
		t.Fatal("expected update error")
	}
}

// --- Typing tests ---

func TestTyping_NoOp(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Typing(context.Background(), "C1"); err != nil {
		t.Errorf("typing should be a no-op, got %v", err)
	}
}

// --- Close tests ---

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	a.Close()
	if err := a.Close(); err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}

// --- resolveUserName tests ---

func TestResolveUserName_Fallbacks(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	client.mu.Lock()
	client.users["U_DISPLAY"] = &slackapi.User{Profile: slackapi.UserProfile{DisplayName: "Disp"}}
	client.users["U_REAL"] = &slackapi.User{RealName: "Real Name"}
	client.mu.Unlock()

	if got := a.resolveUserName("U_DISPLAY"); got != "Disp" {
		t.Errorf("got %q, want Disp", got)
	}
	if got := a.resolveUserName("U_REAL"); got != "Real Name" {
		t.Errorf("got %q, want Real Name", got)
	}
	if got := a.resolveUserName("U_UNKNOWN"); got != "U_UNKNOWN" {
		t.Errorf("got %q, want user id fallback", got)
	}
	if got := a.resolveUserName(""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

// --- parseSlackTimestamp tests ---

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1717171717.000100")
	if ts.Unix() != 1717171717 {
		t.Errorf("unix = %d", ts.Unix())
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("expected zero time for garbage input")
	}
}

// --- Verify Adapter interface compliance ---

var _ relay.Adapter = (*Adapter)(nil)
var _ relay.BotUserIDer = (*Adapter)(nil)
