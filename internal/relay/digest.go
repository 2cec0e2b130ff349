package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// timerChan returns the timer's channel, or nil (blocks forever in select)
// when the timer was never armed.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// Digest periodically sends an activity summary to the owner on a cron
// schedule.
type Digest struct {
	adapter  Adapter
	sessions *Sessions
	history  *ConversationStore
	clone    *CloneDialogue
	ownerID  string
	expr     string
}

// DigestOpts holds parameters for creating a Digest.
type DigestOpts struct {
	Adapter  Adapter
	Sessions *Sessions
	History  *ConversationStore
	Clone    *CloneDialogue
	OwnerID  string
	Cron     string // 5-field cron expression
}

// NewDigest creates a Digest.
func NewDigest(opts DigestOpts) (*Digest, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: digest: adapter is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: digest: sessions is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("relay: digest: history is required")
	}
	if opts.OwnerID == "" {
		return nil, fmt.Errorf("relay: digest: owner id is required")
	}
	if _, err := cronParser.Parse(opts.Cron); err != nil {
		return nil, fmt.Errorf("relay: digest: parse cron %q: %w", opts.Cron, err)
	}
	return &Digest{
		adapter:  opts.Adapter,
		sessions: opts.Sessions,
		history:  opts.History,
		clone:    opts.Clone,
		ownerID:  opts.OwnerID,
		expr:     opts.Cron,
	}, nil
}

// Run fires the digest on schedule until the context is cancelled.
func (g *Digest) Run(ctx context.Context) {
	var timer *time.Timer
	if d := nextCronDuration(g.expr); d > 0 {
		timer = time.NewTimer(d)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerChan(timer):
			g.fire(ctx)
			if d := nextCronDuration(g.expr); d > 0 {
				timer.Reset(d)
			}
		}
	}
}

// fire builds and sends one digest to the owner.
func (g *Digest) fire(ctx context.Context) {
	chatID := g.ownerID
	if sess, ok := g.sessions.Get(g.ownerID); ok && sess.ChatID != "" {
		chatID = sess.ChatID
	}

	text := g.build()
	if _, err := g.adapter.Send(ctx, OutboundMessage{ChatID: chatID, Text: text, HTML: true}); err != nil {
		log.Printf("relay: digest: send: %v", err)
	}
}

// build renders the digest body from current counters.
func (g *Digest) build() string {
	clones := 0
	if g.clone != nil {
		if recs, err := g.clone.Records(); err == nil {
			clones = len(recs)
		} else {
			log.Printf("relay: digest: count clones: %v", err)
		}
	}
	return fmt.Sprintf(
		"<b>📰 Daily Digest</b>\n\n"+
			"👥 Total Users: %d\n"+
			"💬 Active Conversations: %d\n"+
			"🤖 Registered Clone Tokens: %d",
		g.sessions.Count(), g.history.ActiveCount(), clones)
}
