package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/redis"
)

type fakeHistory struct {
	recorded []domain.RatingUpdate
	err      error
}

func (h *fakeHistory) BatchRecordRatingUpdates(_ context.Context, updates []domain.RatingUpdate) error {
	h.recorded = append(h.recorded, updates...)
	return h.err
}

func newTestService(t *testing.T, history RatingHistory) *LeaderboardService {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lb := redis.NewLeaderboardService(client, zap.NewNop())
	cfg := &config.LeaderboardConfig{DefaultLimit: 3, MaxLimit: 4}
	return NewLeaderboardService(lb, history, cfg, zap.NewNop())
}

func TestApplyRatingUpdates(t *testing.T) {
	history := &fakeHistory{}
	svc := newTestService(t, history)
	ctx := context.Background()

	require.NoError(t, svc.ApplyRatingUpdates(ctx, []domain.RatingUpdate{
		{Username: "alice", Rating: 1500},
		{Username: "bob", Rating: 1550},
		{Username: "alice", Rating: 1620},
	}))
	assert.Len(t, history.recorded, 3)

	entry, err := svc.GetPlayerRank(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Rank)
	assert.Equal(t, 1620.0, entry.Rating)

	require.NoError(t, svc.ApplyRatingUpdates(ctx, nil))
}

func TestHistoryFailureDoesNotFailUpdate(t *testing.T) {
	svc := newTestService(t, &fakeHistory{err: assert.AnError})
	ctx := context.Background()

	require.NoError(t, svc.ApplyRatingUpdate(ctx, domain.RatingUpdate{Username: "alice", Rating: 1500}))
	count, err := svc.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetTopNClampsLimit(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, svc.ApplyRatingUpdate(ctx, domain.RatingUpdate{Username: name, Rating: 1400 + float64(i)*10}))
	}

	top, err := svc.GetTopN(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, top, 3)
	assert.Equal(t, "f", top[0].Username)

	top, err = svc.GetTopN(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, top, 4)

	around, err := svc.GetAroundPlayer(ctx, "c", 1)
	require.NoError(t, err)
	require.Len(t, around, 3)
	assert.Equal(t, []string{"d", "c", "b"}, []string{around[0].Username, around[1].Username, around[2].Username})

	_, err = svc.GetAroundPlayer(ctx, "zed", 1)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestDirectNotifierAppliesInBackground(t *testing.T) {
	svc := newTestService(t, nil)
	n := NewDirectNotifier(svc, time.Second, zap.NewNop())

	n.RatingUpdated(domain.RatingUpdate{Username: "alice", Rating: 1575})
	n.GameFinished(domain.GameSummary{GameID: "g1"})

	assert.Eventually(t, func() bool {
		entry, err := svc.GetPlayerRank(context.Background(), "alice")
		return err == nil && entry.Rating == 1575
	}, time.Second, 10*time.Millisecond)
}
