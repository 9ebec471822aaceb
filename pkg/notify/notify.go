// Package notify fans release events out to package subscribers.
// Delivery is asynchronous and best-effort: a failing or slow subscriber
// never affects the operation that raised the event, nor other subscribers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/release-registry/pkg/index"
)

type EventKind string

const (
	EventPublished           EventKind = "PUBLISHED"
	EventDiscontinued        EventKind = "DISCONTINUED"
	EventPackageDiscontinued EventKind = "PACKAGE_DISCONTINUED"
)

// Event describes a registry change subscribers care about.
type Event struct {
	Kind        EventKind
	PackageID   string
	Version     string
	ContentHash string
	At          time.Time
}

type Recipient struct {
	ID    string
	Email string
}

type Message struct {
	To      Recipient
	Subject string
	Body    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// SubscriberSource resolves the current subscribers of a package.
type SubscriberSource interface {
	ListSubscribers(ctx context.Context, packageID string) ([]index.Subscription, error)
}

// RecipientsFrom converts index subscriptions into recipients.
func RecipientsFrom(subs []index.Subscription) []Recipient {
	out := make([]Recipient, 0, len(subs))
	for _, s := range subs {
		out = append(out, Recipient{ID: s.SubscriberID, Email: s.Email})
	}
	return out
}

type Config struct {
	// QueueSize bounds pending events; events beyond it are dropped.
	QueueSize int
	// Workers is the number of events delivered at once.
	Workers int
	// Concurrency caps simultaneous sends per event.
	Concurrency int
	// SendTimeout bounds each individual send and the subscriber lookup.
	SendTimeout time.Duration
	// RatePerSecond limits sends across all events; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}
	return c
}

// Stats counts delivery outcomes since the notifier was created.
type Stats struct {
	Delivered int64
	Failed    int64
	// Dropped counts events refused because the queue was full.
	Dropped int64
}

type job struct {
	ctx        context.Context
	ev         Event
	recipients []Recipient
	lookup     bool
}

type Notifier struct {
	sender  Sender
	source  SubscriberSource
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	queue   chan job
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a notifier. source may be nil when callers always supply
// recipients explicitly.
func New(sender Sender, source SubscriberSource, cfg Config, logger *slog.Logger) *Notifier {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	n := &Notifier{
		sender:  sender,
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With("component", "notifier"),
		queue:   make(chan job, cfg.QueueSize),
	}
	n.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.work()
	}
	return n
}

// Notify delivers ev to the package's current subscribers. It never blocks:
// the subscriber lookup happens on a worker, and a full queue drops ev.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	n.dispatch(ctx, ev, nil, true)
}

// NotifyRecipients delivers ev to an already-captured recipient list. Used when
// the subscriber records are about to be deleted.
func (n *Notifier) NotifyRecipients(ctx context.Context, ev Event, recipients []Recipient) {
	n.dispatch(ctx, ev, recipients, false)
}

func (n *Notifier) dispatch(ctx context.Context, ev Event, recipients []Recipient, lookup bool) {
	if n == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	// Delivery outlives the request that raised the event.
	j := job{ctx: context.WithoutCancel(ctx), ev: ev, recipients: recipients, lookup: lookup}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending.Add(1)
	select {
	case n.queue <- j:
	default:
		n.pending.Done()
		n.dropped.Add(1)
		n.logger.WarnContext(ctx, "notification queue full, event dropped",
			"kind", ev.Kind, "package_id", ev.PackageID, "version", ev.Version)
	}
}

func (n *Notifier) work() {
	defer n.workers.Done()
	for j := range n.queue {
		n.handle(j)
		n.pending.Done()
	}
}

func (n *Notifier) handle(j job) {
	recipients := j.recipients
	if j.lookup {
		if n.source == nil {
			return
		}
		lctx, cancel := context.WithTimeout(j.ctx, n.cfg.SendTimeout)
		subs, err := n.source.ListSubscribers(lctx, j.ev.PackageID)
		cancel()
		if err != nil {
			n.logger.WarnContext(j.ctx, "subscriber lookup failed", "package_id", j.ev.PackageID, "error", err)
			return
		}
		recipients = RecipientsFrom(subs)
	}
	n.deliver(j.ctx, j.ev, recipients)
}

func (n *Notifier) deliver(ctx context.Context, ev Event, recipients []Recipient) {
	if len(recipients) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for _, r := range recipients {
		g.Go(func() error {
			msg := Render(ev, r)
			if err := n.limiter.Wait(ctx); err != nil {
				n.failed.Add(1)
				return nil
			}
			sendCtx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
			defer cancel()
			if err := n.sender.Send(sendCtx, msg); err != nil {
				n.failed.Add(1)
				n.logger.WarnContext(ctx, "notification failed",
					"package_id", ev.PackageID, "version", ev.Version, "subscriber", r.ID, "error", err)
				return nil
			}
			n.delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	n.logger.DebugContext(ctx, "notifications dispatched",
		"kind", ev.Kind, "package_id", ev.PackageID, "recipients", len(recipients))
}

// Wait blocks until every queued event has been delivered or given up on.
func (n *Notifier) Wait() {
	n.pending.Wait()
}

// Close stops accepting events and waits for the queue to drain until ctx ends.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	done := make(chan struct{})
	go func() {
		n.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifier close: %w", ctx.Err())
	}
}

func (n *Notifier) Stats() Stats {
	return Stats{Delivered: n.delivered.Load(), Failed: n.failed.Load(), Dropped: n.dropped.Load()}
}

// Render builds the message sent to r for ev.
func Render(ev Event, r Recipient) Message {
	var subject, body string
	switch ev.Kind {
	case EventPublished:
		subject = fmt.Sprintf("[relreg] %s %s published", ev.PackageID, ev.Version)
		body = fmt.Sprintf("Version %s of %s was published at %s.\nSHA-256: %s\n",
			ev.Version, ev.PackageID, ev.At.Format(time.RFC3339), ev.ContentHash)
	case EventDiscontinued:
		subject = fmt.Sprintf("[relreg] %s %s discontinued", ev.PackageID, ev.Version)
		body = fmt.Sprintf("Version %s of %s was discontinued at %s and is no longer available for download.\n",
			ev.Version, ev.PackageID, ev.At.Format(time.RFC3339))
	default:
		subject = fmt.Sprintf("[relreg] %s discontinued", ev.PackageID)
		body = fmt.Sprintf("Package %s and all of its versions were discontinued at %s.\n",
			ev.PackageID, ev.At.Format(time.RFC3339))
	}
	return Message{To: r, Subject: subject, Body: body}
}
