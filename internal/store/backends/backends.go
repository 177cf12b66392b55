// Package backends opens the store.Store named by configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"printsync/internal/config"
	"printsync/internal/store"
	"printsync/internal/store/firestore"
	"printsync/internal/store/natskv"
	"printsync/internal/store/postgres"
	"printsync/internal/store/sqlite"
)

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (store.Store, error) {
	log.Info().Str("backend", cfg.Backend).Str("collection", cfg.Collection).Msg("opening document store")
	switch cfg.Backend {
	case config.BackendFirestore:
		return opened(firestore.Open(ctx, firestore.Options{
			ProjectID:       cfg.Firestore.ProjectID,
			CredentialsFile: cfg.Firestore.CredentialsFile,
			Logger:          log,
		}))
	case config.BackendNATS:
		return opened(natskv.Open(ctx, natskv.Options{
			URL:    cfg.NATS.URL,
			Bucket: cfg.NATS.Bucket,
			Logger: log,
		}))
	case config.BackendSQLite:
		return opened(sqlite.Open(ctx, sqlite.Options{
			Path:         cfg.SQLite.Path,
			PollInterval: cfg.SQLite.PollInterval.Std(),
			Logger:       log,
		}))
	case config.BackendPostgres:
		return opened(postgres.Open(ctx, postgres.Options{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			Logger:   log,
		}))
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// opened keeps a failed typed-nil backend from escaping as a non-nil interface.
func opened[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
