package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chess-broker/internal/store"
)

// maxTxRetries bounds optimistic-lock retries of Update
const maxTxRetries = 5

// Documents stores collections as JSON strings with a key index per
// collection
type Documents struct {
	client *redis.Client
}

// NewDocuments creates a document store on an existing client
func NewDocuments(client *redis.Client) *Documents {
	return &Documents{client: client}
}

// Collection returns the named collection
func (d *Documents) Collection(name string) store.Collection {
	return &collection{client: d.client, name: name}
}

// Close leaves the shared client open
func (d *Documents) Close() error { return nil }

type collection struct {
	client *redis.Client
	name   string
}

func (c *collection) docKey(key string) string {
	return fmt.Sprintf("store:%s:doc:%s", c.name, key)
}

func (c *collection) indexKey() string {
	return fmt.Sprintf("store:%s:keys", c.name)
}

func (c *collection) FindOne(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, c.docKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("finding %s document: %w", c.name, err)
	}
	return data, nil
}

func (c *collection) Insert(ctx context.Context, key string, doc json.RawMessage) error {
	ok, err := c.client.SetNX(ctx, c.docKey(key), []byte(doc), 0).Result()
	if err != nil {
		return fmt.Errorf("inserting %s document: %w", c.name, err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	if err := c.client.SAdd(ctx, c.indexKey(), key).Err(); err != nil {
		return fmt.Errorf("indexing %s document: %w", c.name, err)
	}
	return nil
}

func (c *collection) Save(ctx context.Context, key string, doc json.RawMessage) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.docKey(key), []byte(doc), 0)
	pipe.SAdd(ctx, c.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving %s document: %w", c.name, err)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, key string, patch json.RawMessage) error {
	docKey := c.docKey(key)
	update := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, docKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			return err
		}
		merged, err := store.Merge(current, patch)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, merged, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := c.client.Watch(ctx, update, docKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("updating %s document: %w", c.name, err)
		}
		return err
	}
	return fmt.Errorf("updating %s document: too much contention", c.name)
}

func (c *collection) Each(ctx context.Context, fn func(key string, doc json.RawMessage) error) error {
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("listing %s documents: %w", c.name, err)
	}
	for _, key := range keys {
		doc, err := c.FindOne(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(key, doc); err != nil {
			return err
		}
	}
	return nil
}
