package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printsync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:         filepath.Join(t.TempDir(), "printsync.db"),
		PollInterval: 10 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDocument(context.Background(), "printer_status", "current")
	assert.True(t, store.IsNotFound(err))
}

func TestMergeDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MergeDocument(ctx, "printer_status", "current", map[string]any{
		"heater_bed":  map[string]any{"target": int64(60), "temperature": 59.5},
		"print_stats": map[string]any{"state": "printing"},
		"timestamp":   "2024-05-01T10:00:00Z",
	}))
	require.NoError(t, s.MergeDocument(ctx, "printer_status", "current", map[string]any{
		"heater_bed": map[string]any{"temperature": 60.1},
		"timestamp":  "2024-05-01T10:00:01Z",
	}))

	doc, err := s.GetDocument(ctx, "printer_status", "current")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"heater_bed":  map[string]any{"target": 60.0, "temperature": 60.1},
		"print_stats": map[string]any{"state": "printing"},
		"timestamp":   "2024-05-01T10:00:01Z",
	}, doc)

	_, version, err := s.read(ctx, "printer_status", "current")
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
}

func TestMergeReplacesLists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.MergeDocument(ctx, "q", "main", map[string]any{"queue": []any{"a", "b"}}))
	require.NoError(t, s.MergeDocument(ctx, "q", "main", map[string]any{"queue": []any{"c"}}))
	doc, err := s.GetDocument(ctx, "q", "main")
	require.NoError(t, err)
	assert.Equal(t, []any{"c"}, doc["queue"])
}

func TestWatchEmitsOnVersionChange(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "q", "main")
	require.NoError(t, err)

	require.NoError(t, s.MergeDocument(ctx, "q", "main", map[string]any{"n": 1}))
	assert.Equal(t, 1.0, next(t, ch)["n"])

	// no change, no event
	select {
	case doc := <-ch:
		t.Fatalf("unexpected event %v", doc)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.MergeDocument(ctx, "q", "main", map[string]any{"n": 2}))
	assert.Equal(t, 2.0, next(t, ch)["n"])

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func next(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case doc := <-ch:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch")
		return nil
	}
}
