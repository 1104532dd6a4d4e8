// Package storetest checks a store.Collection implementation against the
// behaviour the broker relies on.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess-broker/internal/store"
)

// Run exercises an empty collection.
func Run(t *testing.T, c store.Collection) {
	t.Helper()
	ctx := context.Background()

	t.Run("find missing", func(t *testing.T) {
		_, err := c.FindOne(ctx, "nobody")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("insert is unique", func(t *testing.T) {
		require.NoError(t, c.Insert(ctx, "alice", json.RawMessage(`{"username":"alice","n":1}`)))
		err := c.Insert(ctx, "alice", json.RawMessage(`{"username":"alice","n":2}`))
		assert.ErrorIs(t, err, store.ErrDuplicate)

		doc, err := c.FindOne(ctx, "alice")
		require.NoError(t, err)
		assert.JSONEq(t, `{"username":"alice","n":1}`, string(doc))
	})

	t.Run("update merges top-level fields", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, "alice", json.RawMessage(`{"n":3,"prefs":{"premove":false}}`)))
		doc, err := c.FindOne(ctx, "alice")
		require.NoError(t, err)
		assert.JSONEq(t, `{"username":"alice","n":3,"prefs":{"premove":false}}`, string(doc))

		err = c.Update(ctx, "bob", json.RawMessage(`{"n":1}`))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("save upserts", func(t *testing.T) {
		require.NoError(t, c.Save(ctx, "bob", json.RawMessage(`{"username":"bob"}`)))
		require.NoError(t, c.Save(ctx, "bob", json.RawMessage(`{"username":"bob","n":9}`)))
		doc, err := c.FindOne(ctx, "bob")
		require.NoError(t, err)
		assert.JSONEq(t, `{"username":"bob","n":9}`, string(doc))
	})

	t.Run("each visits every document", func(t *testing.T) {
		seen := map[string]bool{}
		require.NoError(t, c.Each(ctx, func(key string, doc json.RawMessage) error {
			seen[key] = true
			assert.True(t, json.Valid(doc))
			return nil
		}))
		assert.Equal(t, map[string]bool{"alice": true, "bob": true}, seen)
	})
}
