// Package sqlite keeps documents in a local SQLite database. Watches poll
// the row version.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"printsync/internal/store"
)

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultPollInterval = time.Second
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, key)
	)`,
}

// Options describes the database file and watch polling.
type Options struct {
	Path         string
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Store implements store.Store.
type Store struct {
	db   *sql.DB
	poll time.Duration
	log  zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates the database file and schema if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Store{
		db:   db,
		poll: poll,
		log:  opts.Logger.With().Str("component", "sqlite").Str("path", opts.Path).Logger(),
	}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND key = ?`, collection, key).Scan(&body)
	var current map[string]any
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("sqlite: read %s: %w", store.Path(collection, key), err)
	default:
		if err := json.Unmarshal([]byte(body), &current); err != nil {
			return fmt.Errorf("sqlite: decode %s: %w", store.Path(collection, key), err)
		}
	}

	merged, err := json.Marshal(store.Merge(current, fields))
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", store.Path(collection, key), err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, key, body) VALUES (?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET
			body = excluded.body,
			version = documents.version + 1,
			updated_at = CURRENT_TIMESTAMP`,
		collection, key, string(merged)); err != nil {
		return fmt.Errorf("sqlite: write %s: %w", store.Path(collection, key), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, collection, key string) (map[string]any, error) {
	doc, _, err := s.read(ctx, collection, key)
	return doc, err
}

func (s *Store) read(ctx context.Context, collection, key string) (map[string]any, int64, error) {
	var (
		body    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, version FROM documents WHERE collection = ? AND key = ?`, collection, key).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: read %s: %w", store.Path(collection, key), err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, 0, fmt.Errorf("sqlite: decode %s: %w", store.Path(collection, key), err)
	}
	return doc, version, nil
}

// Watch polls the row and emits the document whenever its version changes.
func (s *Store) Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error) {
	ch := make(chan map[string]any, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		var seen int64
		for {
			doc, version, err := s.read(ctx, collection, key)
			switch {
			case err == nil && version != seen:
				seen = version
				select {
				case ch <- doc:
				case <-ctx.Done():
					return
				}
			case err != nil && !store.IsNotFound(err):
				if ctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Msg("watch poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

func (s *Store) Close() error { return s.db.Close() }
