package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// workerQueueSize bounds each per-user queue. A full queue drops the event
// rather than blocking the pump.
const workerQueueSize = 16

// Daemon owns the adapter connection and the fan-out of inbound events to
// per-user workers. Events from the same user are handled in arrival order by
// a single goroutine; events from different users proceed concurrently.
type Daemon struct {
	adapter    Adapter
	dispatcher *Dispatcher
	ownerID    string
	out        io.Writer

	mu      sync.Mutex
	workers map[string]chan InboundMessage
	wg      sync.WaitGroup
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Adapter    Adapter
	Dispatcher *Dispatcher
	OwnerID    string    // notified on startup when set
	Out        io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: daemon: adapter is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("relay: daemon: dispatcher is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		adapter:    opts.Adapter,
		dispatcher: opts.Dispatcher,
		ownerID:    opts.OwnerID,
		out:        out,
		workers:    make(map[string]chan InboundMessage),
	}, nil
}

// Run connects, announces startup to the owner, and pumps inbound events
// until the context is cancelled or the inbound channel closes. It returns
// after all in-flight per-user work has drained.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("relay: daemon: connect: %w", err)
	}
	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("relay: daemon: listen: %w", err)
	}

	fmt.Fprintln(d.out, "relay: daemon: connected, pumping events")
	d.notifyOwner(ctx)

	botID := ""
	if ider, ok := d.adapter.(BotUserIDer); ok {
		botID = ider.BotUserID()
	}

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				d.drain()
				return nil
			}
			if msg.UserID == "" || (botID != "" && msg.UserID == botID) {
				continue
			}
			d.enqueue(ctx, msg)
		}
	}
}

// enqueue hands the event to the user's worker, creating one on first
// reference. A full queue drops the event with a log line.
func (d *Daemon) enqueue(ctx context.Context, msg InboundMessage) {
	d.mu.Lock()
	q, ok := d.workers[msg.UserID]
	if !ok {
		q = make(chan InboundMessage, workerQueueSize)
		d.workers[msg.UserID] = q
		d.wg.Add(1)
		go d.worker(ctx, q)
	}
	d.mu.Unlock()

	select {
	case q <- msg:
	default:
		log.Printf("relay: daemon: queue full, dropping event from user %s", msg.UserID)
	}
}

// worker serializes all events from one user.
func (d *Daemon) worker(ctx context.Context, q <-chan InboundMessage) {
	defer d.wg.Done()
	for msg := range q {
		d.handleOne(ctx, msg)
	}
}

// handleOne isolates panics so one malformed event cannot take down the pump.
func (d *Daemon) handleOne(ctx context.Context, msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("relay: daemon: panic handling event from user %s: %v", msg.UserID, r)
		}
	}()
	d.dispatcher.Handle(ctx, msg)
}

// drain closes all worker queues and waits for in-flight work to finish.
func (d *Daemon) drain() {
	d.mu.Lock()
	for _, q := range d.workers {
		close(q)
	}
	d.workers = make(map[string]chan InboundMessage)
	d.mu.Unlock()
	d.wg.Wait()
}

// notifyOwner sends the startup notification. Best-effort.
func (d *Daemon) notifyOwner(ctx context.Context) {
	if d.ownerID == "" {
		return
	}
	sess, ok := d.dispatcher.sessions.Get(d.ownerID)
	chatID := d.ownerID
	if ok && sess.ChatID != "" {
		chatID = sess.ChatID
	}
	text := fmt.Sprintf("✅ Bot started successfully at %s", time.Now().Format("2006-01-02 15:04:05"))
	if _, err := d.adapter.Send(ctx, OutboundMessage{ChatID: chatID, Text: text}); err != nil {
		log.Printf("relay: daemon: startup notification: %v", err)
	}
}
