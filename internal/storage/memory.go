// internal/storage/memory.go
package storage

import (
	"context"
	"sync"
	"time"
)

// memory implements Documents in process memory.
// It's intended for development and testing purposes.
type memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
	now         func() time.Time
}

// collection keeps insertion order so listings are oldest first.
type collection struct {
	docs  map[string]map[string]any
	order []string
}

// NewMemory creates a new in-memory document store.
func NewMemory() Documents {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock is NewMemory with a fixed clock for ServerTimestamp.
func NewMemoryWithClock(now func() time.Time) Documents {
	return &memory{collections: make(map[string]*collection), now: now}
}

func (m *memory) PutDocument(_ context.Context, coll, id string, doc any) (string, error) {
	fields, err := normalize(doc, m.now())
	if err != nil {
		return "", err
	}
	id = newID(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[coll]
	if !ok {
		c = &collection{docs: make(map[string]map[string]any)}
		m.collections[coll] = c
	}
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = fields
	return id, nil
}

func (m *memory) GetDocument(_ context.Context, coll, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.lookup(coll, id)
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: copyFields(fields)}, nil
}

func (m *memory) UpdateDocument(_ context.Context, coll, id string, fields map[string]any) error {
	patch, err := normalize(fields, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.lookup(coll, id)
	if !ok {
		return ErrNotFound
	}
	for k, v := range patch {
		existing[k] = v
	}
	return nil
}

func (m *memory) IncrementCounter(_ context.Context, coll, id, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.lookup(coll, id)
	if !ok {
		return ErrNotFound
	}
	current, err := toNumber(existing[field])
	if err != nil {
		return err
	}
	existing[field] = current + float64(delta)
	return nil
}

func (m *memory) ListDocuments(_ context.Context, coll string, filter map[string]any) ([]Document, error) {
	want, err := normalize(filter, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Document{}
	c, ok := m.collections[coll]
	if !ok {
		return out, nil
	}
	for _, id := range c.order {
		if fields := c.docs[id]; matches(fields, want) {
			out = append(out, Document{ID: id, Fields: copyFields(fields)})
		}
	}
	return out, nil
}

func (m *memory) Ping(context.Context) error { return nil }

func (m *memory) lookup(coll, id string) (map[string]any, bool) {
	c, ok := m.collections[coll]
	if !ok {
		return nil, false
	}
	fields, ok := c.docs[id]
	return fields, ok
}

// copyFields deep-copies a normalised document so callers cannot alias the store.
func copyFields(fields map[string]any) map[string]any {
	return copyValue(fields).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
