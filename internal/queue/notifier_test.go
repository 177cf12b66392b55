package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printsync/internal/store"
)

type sentMessage struct {
	number  string
	message string
}

type fakeSender struct {
	mu     sync.Mutex
	ok     bool
	calls  []sentMessage
	signal chan struct{}
}

func newFakeSender(ok bool) *fakeSender {
	return &fakeSender{ok: ok, signal: make(chan struct{}, 16)}
}

func (f *fakeSender) Send(_ context.Context, number, message string) bool {
	f.mu.Lock()
	f.calls = append(f.calls, sentMessage{number, message})
	ok := f.ok
	f.mu.Unlock()
	f.signal <- struct{}{}
	return ok
}

func (f *fakeSender) setOK(ok bool) {
	f.mu.Lock()
	f.ok = ok
	f.mu.Unlock()
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testOptions() Options {
	return Options{
		QueueCollection:  "print_queue",
		QueueKey:         "current",
		UsersCollection:  "users",
		PublicStreamLink: "https://stream.example.com/public",
	}
}

func seedUser(t *testing.T, mem *store.Memory, id string, fields map[string]any) {
	t.Helper()
	require.NoError(t, mem.MergeDocument(context.Background(), "users", id, fields))
}

// anonymousJob has the bare record shape the queue owner writes: no id.
func anonymousJob(user, file string) map[string]any {
	return map[string]any{
		"status":         "printing",
		"start_msg_sent": false,
		"requested_by":   user,
		"file":           file,
	}
}

func printingJob(id, user string) map[string]any {
	return map[string]any{
		"id":             id,
		"status":         "printing",
		"start_msg_sent": false,
		"requested_by":   user,
		"file":           id + ".gcode",
	}
}

func queueDoc(items ...any) map[string]any {
	return map[string]any{"queue": items}
}

func TestAdvance(t *testing.T) {
	assert.Equal(t, NoticeSent, Advance(NoticePending, true))
	assert.Equal(t, NoticePending, Advance(NoticePending, false))
	assert.Equal(t, NoticeSent, Advance(NoticeSent, false))
	assert.Equal(t, NoticeSent, Advance(NoticeSent, true))
}

func TestEligible(t *testing.T) {
	cases := []struct {
		raw  map[string]any
		want bool
	}{
		{map[string]any{"status": "printing", "start_msg_sent": false}, true},
		{map[string]any{"status": "printing"}, true},
		{map[string]any{"status": "printing", "start_msg_sent": true}, false},
		{map[string]any{"status": "queued", "start_msg_sent": false}, false},
		{map[string]any{"status": "complete"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Eligible(itemFrom(0, tc.raw)), "%v", tc.raw)
	}
}

func TestItemKey(t *testing.T) {
	assert.Equal(t, "id:abc", itemFrom(0, map[string]any{"id": "abc", "job_id": 9}).Key())
	assert.Equal(t, "job:9", itemFrom(0, map[string]any{"job_id": 9}).Key())

	a := itemFrom(0, map[string]any{"requested_by": "u1", "file": "a.gcode", "status": "printing"})
	moved := itemFrom(2, map[string]any{"requested_by": "u1", "file": "a.gcode", "status": "complete", "start_msg_sent": true})
	other := itemFrom(0, map[string]any{"requested_by": "u1", "file": "b.gcode", "status": "printing"})
	assert.Equal(t, a.Key(), moved.Key())
	assert.NotEqual(t, a.Key(), other.Key())
}

func TestItemsSkipsNonRecords(t *testing.T) {
	items := Items(queueDoc("junk", printingJob("a", "u1"), 42))
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Index)
	assert.Empty(t, Items(map[string]any{"queue": "nope"}))
	assert.Empty(t, Items(nil))
}

func TestHandleSnapshotNotifiesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "+15550001111", "display_name": "Ada"})
	sender := newFakeSender(true)
	n := NewNotifier(mem, sender, testOptions())

	doc := queueDoc(printingJob("job-1", "u1"))
	assert.Equal(t, 1, n.HandleSnapshot(ctx, doc))
	// the same unchanged snapshot again
	assert.Equal(t, 1, n.HandleSnapshot(ctx, doc))
	assert.Equal(t, 1, sender.count())

	stored, err := mem.GetDocument(ctx, "print_queue", "current")
	require.NoError(t, err)
	items := Items(stored)
	require.Len(t, items, 1)
	assert.True(t, items[0].StartMsgSent)
	assert.Equal(t, "job-1.gcode", items[0].Raw["file"])

	// once the flag is visible nothing more happens
	assert.Equal(t, 0, n.HandleSnapshot(ctx, stored))
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, "Hi Ada! Your print just started. Watch it live: https://stream.example.com/public", sender.calls[0].message)
	assert.Equal(t, "+15550001111", sender.calls[0].number)
}

func TestHandleSnapshotIgnoresIneligible(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1"})
	sender := newFakeSender(true)
	n := NewNotifier(mem, sender, testOptions())

	queued := printingJob("a", "u1")
	queued["status"] = "queued"
	done := printingJob("b", "u1")
	done["start_msg_sent"] = true

	assert.Zero(t, n.HandleSnapshot(context.Background(), queueDoc(queued, done)))
	assert.Zero(t, sender.count())
	assert.Equal(t, 1, mem.Writes(), "only the seeded user")
}

func TestHandleSnapshotRetriesAfterDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1", "name": "Grace"})
	sender := newFakeSender(false)
	n := NewNotifier(mem, sender, testOptions())
	doc := queueDoc(printingJob("a", "u1"))

	assert.Zero(t, n.HandleSnapshot(ctx, doc))
	_, err := mem.GetDocument(ctx, "print_queue", "current")
	assert.True(t, store.IsNotFound(err), "nothing persisted on failure")

	sender.setOK(true)
	assert.Equal(t, 1, n.HandleSnapshot(ctx, doc))
	assert.Equal(t, 2, sender.count())
	assert.Contains(t, sender.calls[1].message, "Hi Grace!")
}

func TestHandleSnapshotUnresolvedRequester(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "nophone", map[string]any{"display_name": "Nobody"})
	sender := newFakeSender(true)
	n := NewNotifier(mem, sender, testOptions())

	doc := queueDoc(printingJob("a", "ghost"), printingJob("b", "nophone"), printingJob("c", ""))
	assert.Zero(t, n.HandleSnapshot(ctx, doc))
	assert.Zero(t, sender.count())

	// the contact shows up later and the next snapshot picks it up
	seedUser(t, mem, "ghost", map[string]any{"phone_number": "+1"})
	assert.Equal(t, 1, n.HandleSnapshot(ctx, doc))
	assert.Equal(t, 1, sender.count())
}

func TestResolveErrors(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, "nophone", map[string]any{"phone_number": "  "})
	n := NewNotifier(mem, newFakeSender(true), testOptions())

	_, err := n.resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRequester)
	_, err = n.resolve(context.Background(), "nophone")
	assert.ErrorIs(t, err, ErrNoContact)
	_, err = n.resolve(context.Background(), "missing")
	assert.True(t, store.IsNotFound(err))

	seedUser(t, mem, "anon", map[string]any{"phone_number": "5"})
	c, err := n.resolve(context.Background(), "anon")
	require.NoError(t, err)
	assert.Equal(t, Contact{Number: "5", Name: "there"}, c)
}

func TestStreamLinkPreference(t *testing.T) {
	n := NewNotifier(store.NewMemory(), newFakeSender(true), testOptions())
	private := itemFrom(0, map[string]any{"stream_preference": "private", "private_stream_link": "https://p/1"})
	noLink := itemFrom(0, map[string]any{"stream_preference": "private"})
	public := itemFrom(0, map[string]any{"stream_preference": "public", "private_stream_link": "https://p/1"})

	assert.Equal(t, "https://p/1", n.streamLink(private))
	assert.Equal(t, "https://stream.example.com/public", n.streamLink(noLink))
	assert.Equal(t, "https://stream.example.com/public", n.streamLink(public))
}

func TestWriteBackPreservesOtherEntries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1"})
	n := NewNotifier(mem, newFakeSender(true), testOptions())

	waiting := printingJob("w", "u2")
	waiting["status"] = "queued"
	doc := queueDoc(waiting, "legacy-entry", printingJob("p", "u1"))
	require.Equal(t, 1, n.HandleSnapshot(ctx, doc))

	stored, err := mem.GetDocument(ctx, "print_queue", "current")
	require.NoError(t, err)
	list := stored["queue"].([]any)
	require.Len(t, list, 3)
	assert.Equal(t, "queued", list[0].(map[string]any)["status"])
	assert.Equal(t, "legacy-entry", list[1])
	assert.Equal(t, true, list[2].(map[string]any)["start_msg_sent"])
	// the incoming snapshot is not mutated
	assert.Equal(t, false, doc["queue"].([]any)[2].(map[string]any)["start_msg_sent"])
}

func TestCustomTemplate(t *testing.T) {
	opts := testOptions()
	opts.MessageTemplate = "{name}: {link}"
	n := NewNotifier(store.NewMemory(), newFakeSender(true), opts)
	assert.Equal(t, "Ada: L", n.message("Ada", "L"))
}

type failingWriteStore struct {
	*store.Memory
}

func (f failingWriteStore) MergeDocument(context.Context, string, string, map[string]any) error {
	return errors.New("read-only")
}

func TestFailedWriteBackDoesNotResend(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1"})
	sender := newFakeSender(true)
	n := NewNotifier(failingWriteStore{mem}, sender, testOptions())

	doc := queueDoc(printingJob("a", "u1"))
	n.HandleSnapshot(context.Background(), doc)
	n.HandleSnapshot(context.Background(), doc)
	assert.Equal(t, 1, sender.count())
}

func TestAnonymousJobs(t *testing.T) {
	cases := []struct {
		name      string
		snapshots [][]any
		failWrite bool
		wantSends int
	}{
		{
			name: "same job repeated",
			snapshots: [][]any{
				{anonymousJob("u1", "a.gcode")},
				{anonymousJob("u1", "a.gcode")},
			},
			wantSends: 1,
		},
		{
			name: "next job reuses the slot",
			snapshots: [][]any{
				{anonymousJob("u1", "a.gcode")},
				{anonymousJob("u1", "b.gcode")},
			},
			wantSends: 2,
		},
		{
			name: "same file queued again after the first left",
			snapshots: [][]any{
				{anonymousJob("u1", "a.gcode")},
				{},
				{anonymousJob("u1", "a.gcode")},
			},
			wantSends: 2,
		},
		{
			name: "failed write-back then repeat",
			snapshots: [][]any{
				{anonymousJob("u1", "a.gcode")},
				{anonymousJob("u1", "a.gcode")},
			},
			failWrite: true,
			wantSends: 1,
		},
		{
			name: "job shifts position",
			snapshots: [][]any{
				{map[string]any{"status": "complete", "requested_by": "u2"}, anonymousJob("u1", "a.gcode")},
				{anonymousJob("u1", "a.gcode")},
			},
			failWrite: true,
			wantSends: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemory()
			seedUser(t, mem, "u1", map[string]any{"phone_number": "+15550001111", "display_name": "Ada"})
			var st Store = mem
			if tc.failWrite {
				st = failingWriteStore{mem}
			}
			sender := newFakeSender(true)
			n := NewNotifier(st, sender, testOptions())
			for _, items := range tc.snapshots {
				n.HandleSnapshot(ctx, queueDoc(items...))
			}
			assert.Equal(t, tc.wantSends, sender.count())
		})
	}
}

func TestSlotReuseFlagsOnlyAfterSending(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "+15550001111", "display_name": "Ada"})
	sender := newFakeSender(true)
	n := NewNotifier(mem, sender, testOptions())

	require.Equal(t, 1, n.HandleSnapshot(ctx, queueDoc(anonymousJob("u1", "a.gcode"))))
	require.Equal(t, 1, n.HandleSnapshot(ctx, queueDoc(anonymousJob("u1", "b.gcode"))))
	assert.Equal(t, 2, sender.count())

	stored, err := mem.GetDocument(ctx, "print_queue", "current")
	require.NoError(t, err)
	rec := stored["queue"].([]any)[0].(map[string]any)
	assert.Equal(t, "b.gcode", rec["file"])
	assert.Equal(t, true, rec["start_msg_sent"])
}

func TestSentKeysFollowTheQueue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1"})
	n := NewNotifier(mem, newFakeSender(true), testOptions())

	for i := 0; i < 5; i++ {
		n.HandleSnapshot(ctx, queueDoc(printingJob(fmt.Sprintf("job-%d", i), "u1")))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.sent, 1)
	assert.Contains(t, n.sent, "id:job-4")
}

func TestRunFollowsWatch(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, "u1", map[string]any{"phone_number": "1"})
	sender := newFakeSender(true)
	n := NewNotifier(mem, sender, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.NoError(t, mem.MergeDocument(ctx, "print_queue", "current", queueDoc(printingJob("a", "u1"))))
	select {
	case <-sender.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification sent")
	}

	// the write-back comes back through the watch and is ignored
	require.Eventually(t, func() bool {
		doc, err := mem.GetDocument(context.Background(), "print_queue", "current")
		return err == nil && Items(doc)[0].StartMsgSent
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sender.count())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type brokenWatchStore struct {
	*store.Memory
	mu    sync.Mutex
	tries int
}

func (b *brokenWatchStore) Watch(context.Context, string, string) (<-chan map[string]any, error) {
	b.mu.Lock()
	b.tries++
	b.mu.Unlock()
	return nil, errors.New("listener unavailable")
}

func TestRunRewatchesWithBackoff(t *testing.T) {
	st := &brokenWatchStore{Memory: store.NewMemory()}
	n := NewNotifier(st, newFakeSender(true), testOptions())
	var delays []time.Duration
	n.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 8 {
			return context.Canceled
		}
		return nil
	}

	err := n.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}, delays)
	assert.Equal(t, 8, st.tries)
}
