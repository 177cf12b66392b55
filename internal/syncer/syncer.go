// Package syncer reconciles the merged printer snapshot with the document
// store. It writes only when the transformed document actually changes.
package syncer

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"printsync/internal/metrics"
	"printsync/internal/status"
	"printsync/internal/store"
)

// Mode decides when status arrivals reach the store.
type Mode int

const (
	// ModeImmediate syncs on every arrival.
	ModeImmediate Mode = iota
	// ModePeriodic merges on arrival and syncs on a timer.
	ModePeriodic
)

func (m Mode) String() string {
	if m == ModePeriodic {
		return "periodic"
	}
	return "immediate"
}

// ParseMode accepts "immediate" and "periodic".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate":
		return ModeImmediate, nil
	case "periodic":
		return ModePeriodic, nil
	default:
		return ModeImmediate, fmt.Errorf("unknown sync mode %q", s)
	}
}

const (
	defaultInterval     = 5 * time.Second
	defaultFlushTimeout = 10 * time.Second
)

// TimestampField is added to every written document. It is not part of the
// change comparison.
const TimestampField = "timestamp"

// Options configures a Coordinator.
type Options struct {
	Collection   string
	DocumentKey  string
	Mode         Mode
	Interval     time.Duration
	FlushTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Stats counts what the coordinator has done so far.
type Stats struct {
	Arrivals    uint64    `json:"arrivals"`
	Writes      uint64    `json:"writes"`
	Unchanged   uint64    `json:"unchanged"`
	Failures    uint64    `json:"failures"`
	LastWriteAt time.Time `json:"last_write_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Coordinator owns the snapshot, the file metadata and the last written
// document. One mutex covers merge, transform and the write decision, so
// the status path and the timer never interleave.
type Coordinator struct {
	w    store.Writer
	opts Options
	log  zerolog.Logger

	mu    sync.Mutex
	snap  status.Snapshot
	meta  status.FileMetadata
	last  status.Document
	stats Stats
}

// New returns a coordinator writing through w.
func New(w store.Writer, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = defaultFlushTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		w:    w,
		opts: opts,
		log: opts.Logger.With().
			Str("component", "syncer").
			Str("document", store.Path(opts.Collection, opts.DocumentKey)).
			Logger(),
		snap: status.Snapshot{},
		meta: status.FileMetadata{},
	}
}

// Mode reports the configured drive mode.
func (c *Coordinator) Mode() Mode { return c.opts.Mode }

// Document is the destination as collection/key.
func (c *Coordinator) Document() string {
	return store.Path(c.opts.Collection, c.opts.DocumentKey)
}

// OnStatusArrival merges fragment into the snapshot without writing.
func (c *Coordinator) OnStatusArrival(fragment status.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merge(fragment)
}

func (c *Coordinator) merge(fragment status.Snapshot) {
	if fragment == nil {
		return
	}
	c.snap = status.Merge(c.snap, fragment)
	c.stats.Arrivals++
}

// HandleStatus routes one fragment according to the mode.
func (c *Coordinator) HandleStatus(ctx context.Context, fragment status.Snapshot) {
	if c.opts.Mode == ModePeriodic {
		c.OnStatusArrival(fragment)
		return
	}
	c.SyncNow(ctx, fragment)
}

// SyncNow merges fragment (if any), transforms the snapshot and writes the
// result unless it equals the last written document. Write failures are
// logged and counted, never returned; the next call retries. It reports
// whether a write happened.
func (c *Coordinator) SyncNow(ctx context.Context, fragment status.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.merge(fragment)
	doc := status.Transform(c.snap, c.meta)
	if len(doc) == 0 {
		return false
	}
	if c.last != nil && reflect.DeepEqual(doc, c.last) {
		c.stats.Unchanged++
		metrics.SyncWrites.WithLabelValues("unchanged").Inc()
		return false
	}

	now := c.opts.Now().UTC()
	fields := doc.Map()
	fields[TimestampField] = now.Format(time.RFC3339Nano)
	if err := c.w.MergeDocument(ctx, c.opts.Collection, c.opts.DocumentKey, fields); err != nil {
		c.stats.Failures++
		c.stats.LastError = err.Error()
		metrics.SyncWrites.WithLabelValues("failed").Inc()
		c.log.Error().Err(err).Msg("failed to sync status")
		return false
	}

	c.last = doc
	c.stats.Writes++
	c.stats.LastWriteAt = now
	c.stats.LastError = ""
	metrics.SyncWrites.WithLabelValues("written").Inc()
	c.log.Debug().Int("blocks", len(doc)).Msg("synced printer status")
	return true
}

// Flush performs a final sync with its own bounded context, for use after
// the caller's context is gone.
func (c *Coordinator) Flush() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FlushTimeout)
	defer cancel()
	return c.SyncNow(ctx, nil)
}

// Run drives periodic syncs until ctx ends, then flushes once. In immediate
// mode it only waits and flushes.
func (c *Coordinator) Run(ctx context.Context) {
	defer func() {
		if c.Flush() {
			c.log.Info().Msg("flushed final printer status")
		}
	}()

	if c.opts.Mode != ModePeriodic {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	c.log.Info().Dur("interval", c.opts.Interval).Msg("periodic sync started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SyncNow(ctx, nil)
		}
	}
}

// SetFileMetadata replaces the metadata of the file being printed.
func (c *Coordinator) SetFileMetadata(meta status.FileMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta == nil {
		meta = status.FileMetadata{}
	}
	c.meta = meta
}

// Snapshot returns a copy of the merged snapshot.
func (c *Coordinator) Snapshot() status.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Filename is the name of the file currently reported by the printer.
func (c *Coordinator) Filename() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return status.Filename(c.snap)
}

// LastWritten returns a copy of the last document written, or nil.
func (c *Coordinator) LastWritten() status.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	out := make(status.Document, len(c.last))
	for name, block := range c.last {
		fields := make(map[string]any, len(block))
		for k, v := range block {
			fields[k] = v
		}
		out[name] = fields
	}
	return out
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
