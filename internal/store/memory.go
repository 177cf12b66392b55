package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and the "memory" backend.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	watchers map[string]map[chan map[string]any]struct{}
	writes   int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]map[string]any),
		watchers: make(map[string]map[chan map[string]any]struct{}),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) MergeDocument(ctx context.Context, collection, key string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Path(collection, key)
	doc := Merge(m.docs[p], fields)
	m.docs[p] = doc
	m.writes++
	for ch := range m.watchers[p] {
		offer(ch, Clone(doc))
	}
	return nil
}

func (m *Memory) GetDocument(ctx context.Context, collection, key string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[Path(collection, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(doc), nil
}

// Watch delivers the latest value only: a slow reader skips intermediate
// versions but always observes the newest one.
func (m *Memory) Watch(ctx context.Context, collection, key string) (<-chan map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := Path(collection, key)
	ch := make(chan map[string]any, 1)

	m.mu.Lock()
	if m.watchers[p] == nil {
		m.watchers[p] = make(map[chan map[string]any]struct{})
	}
	m.watchers[p][ch] = struct{}{}
	if doc, ok := m.docs[p]; ok {
		ch <- Clone(doc)
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[p], ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// Writes reports how many merge writes have been applied.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// offer replaces any undelivered value in ch with v. Callers hold the lock
// that serialises senders.
func offer(ch chan map[string]any, v map[string]any) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
