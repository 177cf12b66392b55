package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"printsync/internal/metrics"
	"printsync/internal/notify"
	"printsync/internal/store"
)

const (
	defaultTemplate = "Hi {name}! Your print just started. Watch it live: {link}"

	minRewatch = time.Second
	maxRewatch = 60 * time.Second
)

var (
	ErrNoRequester = errors.New("queue: item has no requester")
	ErrNoContact   = errors.New("queue: no contact on file")
)

// Store is what the notifier needs from a backend.
type Store interface {
	store.Reader
	store.Writer
	store.Watcher
}

// Options locates the queue and user documents and shapes the message.
type Options struct {
	QueueCollection  string
	QueueKey         string
	UsersCollection  string
	PublicStreamLink string
	// MessageTemplate may use {name} and {link}.
	MessageTemplate string
	Logger          zerolog.Logger
}

// Contact is how to reach a requester.
type Contact struct {
	Number string
	Name   string
}

// Notifier sends one print-start message per queue item. Delivery is
// at-most-once per item: a failed send or lookup leaves the item pending and
// the next snapshot retries it.
type Notifier struct {
	st     Store
	sender notify.Sender
	opts   Options
	log    zerolog.Logger
	sleep  func(context.Context, time.Duration) error

	mu   sync.Mutex
	sent map[string]struct{}
}

// NewNotifier wires a notifier.
func NewNotifier(st Store, sender notify.Sender, opts Options) *Notifier {
	if opts.MessageTemplate == "" {
		opts.MessageTemplate = defaultTemplate
	}
	return &Notifier{
		st:     st,
		sender: sender,
		opts:   opts,
		log: opts.Logger.With().
			Str("component", "queue").
			Str("queue", store.Path(opts.QueueCollection, opts.QueueKey)).
			Logger(),
		sleep: sleepCtx,
		sent:  make(map[string]struct{}),
	}
}

// HandleSnapshot processes one version of the queue document and returns the
// number of items that moved to sent.
func (n *Notifier) HandleSnapshot(ctx context.Context, doc map[string]any) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	items := Items(doc)
	n.forgetAbsent(items)

	updated := make(map[int]map[string]any)
	for _, it := range items {
		if !Eligible(it) {
			continue
		}
		key := it.Key()
		_, already := n.sent[key]
		delivered := already
		if !already {
			delivered = n.deliver(ctx, it)
		}
		if Advance(StateOf(it), delivered) != NoticeSent {
			continue
		}
		n.sent[key] = struct{}{}
		rec := store.Clone(it.Raw)
		rec[fieldStartMsgSent] = true
		updated[it.Index] = rec
	}
	if len(updated) == 0 {
		return 0
	}

	list, _ := doc["queue"].([]any)
	out := make([]any, len(list))
	for i, entry := range list {
		if rec, ok := updated[i]; ok {
			out[i] = rec
			continue
		}
		out[i] = entry
	}
	if err := n.st.MergeDocument(ctx, n.opts.QueueCollection, n.opts.QueueKey, map[string]any{"queue": out}); err != nil {
		n.log.Error().Err(err).Int("items", len(updated)).Msg("failed to persist notification flags")
	}
	return len(updated)
}

// forgetAbsent drops sent keys for jobs no longer in the queue. Caller holds
// n.mu.
func (n *Notifier) forgetAbsent(items []Item) {
	if len(n.sent) == 0 {
		return
	}
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		present[it.Key()] = struct{}{}
	}
	for key := range n.sent {
		if _, ok := present[key]; !ok {
			delete(n.sent, key)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, it Item) bool {
	log := n.log.With().Str("job", it.Key()).Str("requested_by", it.RequestedBy).Logger()
	contact, err := n.resolve(ctx, it.RequestedBy)
	if err != nil {
		metrics.Notifications.WithLabelValues("unresolved").Inc()
		log.Warn().Err(err).Msg("cannot notify requester")
		return false
	}
	msg := n.message(contact.Name, n.streamLink(it))
	if !n.sender.Send(ctx, contact.Number, msg) {
		return false
	}
	log.Info().Msg("print start notification delivered")
	return true
}

func (n *Notifier) resolve(ctx context.Context, userID string) (Contact, error) {
	if userID == "" {
		return Contact{}, ErrNoRequester
	}
	user, err := n.st.GetDocument(ctx, n.opts.UsersCollection, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return Contact{}, fmt.Errorf("queue: requester %s not found: %w", userID, err)
		}
		return Contact{}, fmt.Errorf("queue: look up requester %s: %w", userID, err)
	}
	number, _ := user["phone_number"].(string)
	if strings.TrimSpace(number) == "" {
		return Contact{}, fmt.Errorf("%w for %s", ErrNoContact, userID)
	}
	name, _ := user["display_name"].(string)
	if name == "" {
		name, _ = user["name"].(string)
	}
	if name == "" {
		name = "there"
	}
	return Contact{Number: number, Name: name}, nil
}

func (n *Notifier) streamLink(it Item) string {
	if it.StreamPreference == "private" && it.PrivateStreamLink != "" {
		return it.PrivateStreamLink
	}
	return n.opts.PublicStreamLink
}

func (n *Notifier) message(name, link string) string {
	return strings.NewReplacer("{name}", name, "{link}", link).Replace(n.opts.MessageTemplate)
}

// Run watches the queue document until ctx ends. A failed or closed watch is
// re-established with exponential backoff.
func (n *Notifier) Run(ctx context.Context) error {
	delay := minRewatch
	for {
		ch, err := n.st.Watch(ctx, n.opts.QueueCollection, n.opts.QueueKey)
		if err != nil {
			n.log.Warn().Err(err).Dur("retry_in", delay).Msg("queue watch failed")
		} else {
			n.log.Info().Msg("watching print queue")
			for doc := range ch {
				delay = minRewatch
				n.HandleSnapshot(ctx, doc)
			}
			if ctx.Err() == nil {
				n.log.Warn().Dur("retry_in", delay).Msg("queue watch closed")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := n.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > maxRewatch {
			delay = maxRewatch
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
