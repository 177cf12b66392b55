// Package postgres stores documents as jsonb rows and turns LISTEN/NOTIFY
// into watches.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"printsync/internal/store"
)

const notifyChannel = "printsync_documents"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       JSONB NOT NULL DEFAULT '{}'::jsonb,
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, key)
	)`,
}

// Options configures the pool.
type Options struct {
	DSN      string
	MaxConns int32
	Logger   zerolog.Logger
}

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: apply schema: %w", err)
		}
	}
	log := opts.Logger.With().Str("component", "postgres").Logger()
	log.Info().
		Str("host", cfg.ConnConfig.Host).
		Int32("max_conns", cfg.MaxConns).
		Msg("connected to postgres")
	return &Store{pool: pool, log: log}, nil
}

// MergeDocument locks the row, merges in Go and notifies watchers in the same
// transaction.
func (s *Store) MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	path := store.Path(collection, key)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO documents (collection, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		collection, key); err != nil {
		return fmt.Errorf("postgres: ensure %s: %w", path, err)
	}

	var body []byte
	if err := tx.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
		collection, key).Scan(&body); err != nil {
		return fmt.Errorf("postgres: lock %s: %w", path, err)
	}
	var current map[string]any
	if err := json.Unmarshal(body, &current); err != nil {
		return fmt.Errorf("postgres: decode %s: %w", path, err)
	}

	merged, err := json.Marshal(store.Merge(current, fields))
	if err != nil {
		return fmt.Errorf("postgres: encode %s: %w", path, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE documents SET body = $3::jsonb, version = version + 1, updated_at = now()
		 WHERE collection = $1 AND key = $2`,
		collection, key, string(merged)); err != nil {
		return fmt.Errorf("postgres: write %s: %w", path, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path); err != nil {
		return fmt.Errorf("postgres: notify %s: %w", path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %s: %w", path, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, collection, key string) (map[string]any, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND key = $2 AND version > 0`,
		collection, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", store.Path(collection, key), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode %s: %w", store.Path(collection, key), err)
	}
	return doc, nil
}

// Watch holds a dedicated connection in LISTEN mode for as long as ctx lives.
func (s *Store) Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres: listen: %w", err)
	}

	path := store.Path(collection, key)
	ch := make(chan map[string]any, 1)
	emit := func() bool {
		doc, err := s.GetDocument(ctx, collection, key)
		if err != nil {
			if !store.IsNotFound(err) && ctx.Err() == nil {
				s.log.Warn().Err(err).Str("document", path).Msg("watch read failed")
			}
			return ctx.Err() == nil
		}
		select {
		case ch <- doc:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer conn.Release()
		if !emit() {
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn().Err(err).Msg("listener connection lost")
				}
				return
			}
			if n.Payload != path {
				continue
			}
			if !emit() {
				return
			}
		}
	}()
	return ch, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
