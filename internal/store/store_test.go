package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chess-broker/internal/loop"
	"github.com/chess-broker/internal/store"
	"github.com/chess-broker/internal/store/storetest"
)

func TestMemoryCollection(t *testing.T) {
	db := store.NewMemory()
	storetest.Run(t, db.Collection(store.Users))

	_, err := db.Collection(store.Games).FindOne(context.Background(), "alice")
	assert.ErrorIs(t, err, store.ErrNotFound, "collections are separate")
}

func TestMergeIntoEmptyObject(t *testing.T) {
	merged, err := store.Merge(json.RawMessage(`null`), json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(merged))

	_, err = store.Merge(json.RawMessage(`{}`), json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	type profile struct {
		Username string `json:"username"`
	}
	doc, err := store.Encode(profile{Username: "alice"})
	require.NoError(t, err)
	p, err := store.Decode[profile](doc)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = store.Decode[profile](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestAsyncDeliversOnScheduler(t *testing.T) {
	sched := loop.NewManual(time.Unix(0, 0))
	async := store.NewAsync(sched, time.Second)
	users := store.NewMemory().Collection(store.Users)

	var got json.RawMessage
	var gotErr error
	store.Exec(async, func(ctx context.Context) error {
		return users.Insert(ctx, "alice", json.RawMessage(`{"username":"alice"}`))
	}, nil)
	store.Call(async, func(ctx context.Context) (json.RawMessage, error) {
		return users.FindOne(ctx, "alice")
	}, func(doc json.RawMessage, err error) {
		got, gotErr = doc, err
	})
	assert.Nil(t, got, "nothing runs before the scheduler does")

	sched.Flush()
	require.NoError(t, gotErr)
	assert.JSONEq(t, `{"username":"alice"}`, string(got))
}

func TestAsyncPassesErrors(t *testing.T) {
	sched := loop.NewManual(time.Unix(0, 0))
	async := store.NewAsync(sched, 0)
	boom := errors.New("boom")

	var got error
	store.Exec(async, func(context.Context) error { return boom }, func(err error) { got = err })
	sched.Flush()

	assert.ErrorIs(t, got, boom)
}
