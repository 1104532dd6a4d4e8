package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Database. Nothing survives a restart.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) Collection(name string) Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]json.RawMessage)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Close() error { return nil }

type memoryCollection struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

func (c *memoryCollection) FindOne(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(doc), nil
}

func (c *memoryCollection) Insert(ctx context.Context, key string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[key]; ok {
		return ErrDuplicate
	}
	c.docs[key] = clone(doc)
	return nil
}

func (c *memoryCollection) Save(ctx context.Context, key string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[key] = clone(doc)
	return nil
}

func (c *memoryCollection) Update(ctx context.Context, key string, patch json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[key]
	if !ok {
		return ErrNotFound
	}
	merged, err := Merge(doc, patch)
	if err != nil {
		return err
	}
	c.docs[key] = merged
	return nil
}

func (c *memoryCollection) Each(ctx context.Context, fn func(key string, doc json.RawMessage) error) error {
	c.mu.RLock()
	keys := make([]string, 0, len(c.docs))
	for k := range c.docs {
		keys = append(keys, k)
	}
	docs := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		docs[k] = clone(c.docs[k])
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, docs[k]); err != nil {
			return err
		}
	}
	return nil
}

func clone(doc json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), doc...)
}
