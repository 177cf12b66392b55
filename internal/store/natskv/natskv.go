// Package natskv stores documents as JSON values in a NATS JetStream
// key-value bucket. Keys are "<collection>.<key>".
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"printsync/internal/store"
)

const maxCASAttempts = 8

// Options configures the connection and bucket.
type Options struct {
	URL    string
	Bucket string
	Logger zerolog.Logger
}

// Store implements store.Store on a KV bucket. Merges are read-modify-write
// guarded by the entry revision.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	bucket string
	log    zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to NATS and creates the bucket if it does not exist.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("natskv: bucket is required")
	}
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("printsync"))
	if err != nil {
		return nil, fmt.Errorf("natskv: connect %s: %w", url, err)
	}
	s, err := New(ctx, nc, opts.Bucket, opts.Logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(ctx context.Context, nc *nats.Conn, bucket string, log zerolog.Logger) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("natskv: jetstream: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "printsync documents",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("natskv: bucket %s: %w", bucket, err)
	}
	return &Store{
		nc:     nc,
		kv:     kv,
		bucket: bucket,
		log:    log.With().Str("component", "natskv").Str("bucket", bucket).Logger(),
	}, nil
}

func kvKey(collection, key string) string { return collection + "." + key }

func (s *Store) MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	k := kvKey(collection, key)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, k)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			body, err := json.Marshal(store.Merge(nil, fields))
			if err != nil {
				return fmt.Errorf("natskv: encode %s: %w", k, err)
			}
			if _, err := s.kv.Create(ctx, k, body); err != nil {
				if errors.Is(err, jetstream.ErrKeyExists) {
					continue
				}
				return fmt.Errorf("natskv: create %s: %w", k, err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("natskv: get %s: %w", k, err)
		}

		current, err := decode(entry.Value())
		if err != nil {
			return fmt.Errorf("natskv: decode %s: %w", k, err)
		}
		body, err := json.Marshal(store.Merge(current, fields))
		if err != nil {
			return fmt.Errorf("natskv: encode %s: %w", k, err)
		}
		if _, err := s.kv.Update(ctx, k, body, entry.Revision()); err != nil {
			if isWrongRevision(err) {
				s.log.Debug().Str("key", k).Int("attempt", attempt+1).Msg("revision changed, retrying merge")
				continue
			}
			return fmt.Errorf("natskv: update %s: %w", k, err)
		}
		return nil
	}
	return fmt.Errorf("natskv: merge %s: too much contention", k)
}

func (s *Store) GetDocument(ctx context.Context, collection, key string) (map[string]any, error) {
	k := kvKey(collection, key)
	entry, err := s.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("natskv: get %s: %w", k, err)
	}
	doc, err := decode(entry.Value())
	if err != nil {
		return nil, fmt.Errorf("natskv: decode %s: %w", k, err)
	}
	return doc, nil
}

func (s *Store) Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error) {
	k := kvKey(collection, key)
	watcher, err := s.kv.Watch(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("natskv: watch %s: %w", k, err)
	}

	ch := make(chan map[string]any, 1)
	go func() {
		defer close(ch)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if entry == nil {
					continue
				}
				if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
					continue
				}
				doc, err := decode(entry.Value())
				if err != nil {
					s.log.Warn().Err(err).Str("key", k).Msg("skipping undecodable value")
					continue
				}
				select {
				case ch <- doc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

func decode(b []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func isWrongRevision(err error) bool {
	var jsErr jetstream.JetStreamError
	if errors.As(err, &jsErr) && jsErr.APIError() != nil {
		return jsErr.APIError().ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
