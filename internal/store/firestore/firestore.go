// Package firestore is the Cloud Firestore store backend. The emulator is
// used automatically when FIRESTORE_EMULATOR_HOST is set.
package firestore

import (
	"context"
	"errors"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"printsync/internal/store"
)

// Options configures the client.
type Options struct {
	ProjectID string
	// CredentialsFile is a service account key. Empty means application
	// default credentials.
	CredentialsFile string
	Logger          zerolog.Logger
}

// Store implements store.Store on top of Firestore documents.
type Store struct {
	client *gcfirestore.Client
	log    zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the project.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := gcfirestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: new client: %w", err)
	}
	log := opts.Logger.With().Str("component", "firestore").Str("project", opts.ProjectID).Logger()
	log.Info().Msg("firestore client initialised")
	return &Store{client: client, log: log}, nil
}

func (s *Store) doc(collection, key string) *gcfirestore.DocumentRef {
	return s.client.Collection(collection).Doc(key)
}

// MergeDocument writes fields with MergeAll, creating the document if needed.
func (s *Store) MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	if _, err := s.doc(collection, key).Set(ctx, fields, gcfirestore.MergeAll); err != nil {
		return fmt.Errorf("firestore: merge %s: %w", store.Path(collection, key), err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, collection, key string) (map[string]any, error) {
	snap, err := s.doc(collection, key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("firestore: get %s: %w", store.Path(collection, key), err)
	}
	if !snap.Exists() {
		return nil, store.ErrNotFound
	}
	return snap.Data(), nil
}

// Watch follows the document with a realtime listener. Snapshots of a
// missing document are skipped.
func (s *Store) Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error) {
	it := s.doc(collection, key).Snapshots(ctx)
	ch := make(chan map[string]any, 1)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					s.log.Warn().Err(err).Str("document", store.Path(collection, key)).Msg("snapshot listener stopped")
				}
				return
			}
			if !snap.Exists() {
				continue
			}
			select {
			case ch <- snap.Data():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *Store) Close() error { return s.client.Close() }
