package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printsync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PRINTSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRINTSYNC_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), Options{DSN: dsn, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestMergeAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	coll := "test_" + uuid.NewString()

	_, err := s.GetDocument(ctx, coll, "current")
	require.True(t, store.IsNotFound(err))

	require.NoError(t, s.MergeDocument(ctx, coll, "current", map[string]any{
		"extruder": map[string]any{"target": 210, "temperature": 205.5},
	}))
	require.NoError(t, s.MergeDocument(ctx, coll, "current", map[string]any{
		"extruder": map[string]any{"temperature": 209.9},
	}))

	doc, err := s.GetDocument(ctx, coll, "current")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"target": 210.0, "temperature": 209.9}, doc["extruder"])
}

func TestWatchFollowsNotifications(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coll := "test_" + uuid.NewString()

	require.NoError(t, s.MergeDocument(ctx, coll, "main", map[string]any{"n": 1}))
	ch, err := s.Watch(ctx, coll, "main")
	require.NoError(t, err)
	assert.Equal(t, 1.0, (<-ch)["n"])

	require.NoError(t, s.MergeDocument(ctx, coll, "other", map[string]any{"n": 99}))
	require.NoError(t, s.MergeDocument(ctx, coll, "main", map[string]any{"n": 2}))
	assert.Equal(t, 2.0, (<-ch)["n"])
}
