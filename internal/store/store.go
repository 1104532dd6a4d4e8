// Package store is the document store the broker persists users and
// finished games in. Documents are JSON objects filed under a key that is
// unique within their collection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names.
const (
	Users = "users"
	Games = "games"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Collection is a keyed set of JSON documents.
type Collection interface {
	// FindOne returns the document under key or ErrNotFound.
	FindOne(ctx context.Context, key string) (json.RawMessage, error)
	// Insert adds a document and fails with ErrDuplicate if key is taken.
	Insert(ctx context.Context, key string, doc json.RawMessage) error
	// Save inserts or replaces the document under key.
	Save(ctx context.Context, key string, doc json.RawMessage) error
	// Update sets the top-level fields in patch on an existing document.
	Update(ctx context.Context, key string, patch json.RawMessage) error
	// Each calls fn for every document until fn returns an error.
	Each(ctx context.Context, fn func(key string, doc json.RawMessage) error) error
}

// Database hands out named collections.
type Database interface {
	Collection(name string) Collection
	Close() error
}

// Encode marshals v for storage.
func Encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return data, nil
}

// Decode unmarshals a stored document.
func Decode[T any](doc json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return v, fmt.Errorf("decoding document: %w", err)
	}
	return v, nil
}

// Merge returns doc with the top-level fields of patch set on it.
func Merge(doc, patch json.RawMessage) (json.RawMessage, error) {
	var base, fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &base); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(fields))
	}
	for k, v := range fields {
		base[k] = v
	}
	return json.Marshal(base)
}
