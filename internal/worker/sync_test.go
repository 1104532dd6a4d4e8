package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/store"
)

type fakeLeaderboard struct {
	mu       sync.Mutex
	replaced []map[string]float64
}

func (f *fakeLeaderboard) ReplaceAll(_ context.Context, ratings map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, ratings)
	return nil
}

func (f *fakeLeaderboard) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replaced)
}

func seedUsers(t *testing.T) store.Collection {
	t.Helper()
	users := store.NewMemory().Collection(store.Users)
	ctx := context.Background()
	require.NoError(t, users.Insert(ctx, "alice", json.RawMessage(`{"username":"alice","glicko2":{"rating":1612.5,"rd":80,"vol":0.06}}`)))
	require.NoError(t, users.Insert(ctx, "bob", json.RawMessage(`{"username":"bob","glicko2":{"rating":1480,"rd":120,"vol":0.06}}`)))
	require.NoError(t, users.Insert(ctx, "legacy", json.RawMessage(`{"username":"legacy"}`)))
	return users
}

func TestCollectionRatings(t *testing.T) {
	ratings, err := CollectionRatings{Users: seedUsers(t)}.GetAllRatings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"alice": 1612.5, "bob": 1480}, ratings)
}

func TestRebuildReplacesLeaderboard(t *testing.T) {
	lb := &fakeLeaderboard{}
	w := NewSyncWorker(lb, CollectionRatings{Users: seedUsers(t)}, &config.SyncConfig{Interval: time.Hour}, zap.NewNop())

	require.NoError(t, w.Rebuild(context.Background()))
	require.Len(t, lb.replaced, 1)
	assert.Equal(t, 1612.5, lb.replaced[0]["alice"])
}

func TestStartStop(t *testing.T) {
	lb := &fakeLeaderboard{}
	w := NewSyncWorker(lb, CollectionRatings{Users: seedUsers(t)}, &config.SyncConfig{Interval: 5 * time.Millisecond}, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	assert.Eventually(t, func() bool { return lb.calls() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}
