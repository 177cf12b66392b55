// Package store defines the document store shared by the sync coordinator and
// the queue notifier.
//
// Documents are JSON-like maps addressed by collection and key. MergeDocument
// has the semantics of a Firestore merge write: nested maps are merged field
// by field, every other value (lists included) replaces what was stored.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by GetDocument when no document exists.
var ErrNotFound = errors.New("store: document not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Writer merges fields into a document, creating it when absent.
type Writer interface {
	MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error
}

// Reader fetches a whole document.
type Reader interface {
	GetDocument(ctx context.Context, collection, key string) (map[string]any, error)
}

// Watcher streams the current value of a document followed by every later
// change. The channel is closed when ctx ends or the watch fails; callers
// re-establish it if they still care.
type Watcher interface {
	Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error)
}

// Store is a complete backend.
type Store interface {
	Writer
	Reader
	Watcher
	Close() error
}

// Merge returns a new map holding src deep-merged into dst. Neither argument
// is modified.
func Merge(dst, src map[string]any) map[string]any {
	out := Clone(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	for k, v := range src {
		incoming, ok := v.(map[string]any)
		if !ok {
			out[k] = cloneValue(v)
			continue
		}
		if existing, ok := out[k].(map[string]any); ok {
			out[k] = Merge(existing, incoming)
			continue
		}
		out[k] = Clone(incoming)
	}
	return out
}

// Clone deep-copies nested maps and lists.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Path joins collection and key for backends with a flat namespace.
func Path(collection, key string) string {
	return fmt.Sprintf("%s/%s", collection, key)
}
