package natskv

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printsync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PRINTSYNC_TEST_NATS_URL")
	if url == "" {
		t.Skip("PRINTSYNC_TEST_NATS_URL not set")
	}
	bucket := "printsync_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s, err := Open(context.Background(), Options{URL: url, Bucket: bucket, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		js, err := jetstream.New(s.nc)
		if err == nil {
			_ = js.DeleteKeyValue(context.Background(), bucket)
		}
		_ = s.Close()
	})
	return s
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "printer_status.current", kvKey("printer_status", "current"))
}

func TestDecodeNullIsEmpty(t *testing.T) {
	doc, err := decode([]byte("null"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, doc)

	_, err = decode([]byte("[1]"))
	assert.Error(t, err)
}

func TestMergeGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetDocument(ctx, "printer_status", "current")
	require.True(t, store.IsNotFound(err))

	require.NoError(t, s.MergeDocument(ctx, "printer_status", "current", map[string]any{
		"heater_bed": map[string]any{"target": 60, "temperature": 59.5},
	}))
	require.NoError(t, s.MergeDocument(ctx, "printer_status", "current", map[string]any{
		"heater_bed": map[string]any{"temperature": 60.2},
	}))

	doc, err := s.GetDocument(ctx, "printer_status", "current")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"target": 60.0, "temperature": 60.2}, doc["heater_bed"])
}

func TestConcurrentMergesAllLand(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			field := string(rune('a' + n))
			assert.NoError(t, s.MergeDocument(ctx, "c", "k", map[string]any{field: n}))
		}(i)
	}
	wg.Wait()

	doc, err := s.GetDocument(ctx, "c", "k")
	require.NoError(t, err)
	assert.Len(t, doc, 4)
}

func TestWatchSeesCurrentAndLaterValues(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.MergeDocument(ctx, "print_queue", "main", map[string]any{"queue": []any{}}))
	ch, err := s.Watch(ctx, "print_queue", "main")
	require.NoError(t, err)
	first := <-ch
	assert.Contains(t, first, "queue")

	require.NoError(t, s.MergeDocument(ctx, "print_queue", "main", map[string]any{"queue": []any{"job"}}))
	next := <-ch
	assert.Equal(t, []any{"job"}, next["queue"])
}
