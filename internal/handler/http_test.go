package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/broker"
	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/loop"
	"github.com/chess-broker/internal/redis"
	"github.com/chess-broker/internal/service"
	"github.com/chess-broker/internal/store"
	"github.com/chess-broker/internal/websocket"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type guest struct{ name string }

func (g guest) Username() string           { return g.name }
func (g guest) IsLoggedIn() bool           { return false }
func (g guest) Glicko2() domain.Glicko2    { return domain.DefaultGlicko2() }
func (g guest) GamesAsWhiteRatio() float64 { return 1 }

type fixture struct {
	sched *loop.Manual
	db    *store.Memory
	app   *broker.Application
	lb    *service.LeaderboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := loop.NewManual(time.UnixMilli(1_700_000_000_000))
	db := store.NewMemory()
	cfg := &config.BrokerConfig{SeekTimeout: 5 * time.Minute, RandomGames: 6, GamesPerRatingPeriod: 10}
	app := broker.New(cfg, sched, db, store.NewAsync(sched, 0), nil, zap.NewNop())

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	lb := service.NewLeaderboardService(
		redis.NewLeaderboardService(client, zap.NewNop()),
		nil,
		&config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 100},
		zap.NewNop(),
	)
	return &fixture{sched: sched, db: db, app: app, lb: lb}
}

func (f *fixture) router(lb Leaderboard) http.Handler {
	hub := websocket.NewHub(f.sched, time.Minute, zap.NewNop())
	return NewHandler(f.app, f.sched, hub, lb, zap.NewNop()).Router()
}

func get(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	h := f.router(f.lb)

	code, resp := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, code)

	code, resp = get(t, h, "/api/v1/ws/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"clients":0,"connected":0}`, string(resp.Data))
}

func TestChallengesAndStats(t *testing.T) {
	f := newFixture(t)
	h := f.router(f.lb)

	code, resp := get(t, h, "/api/v1/challenges")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(resp.Data))

	challenge, err := f.app.CreateChallenge(game.NewPlayer(guest{name: "alice"}), domain.ChallengeOptions{InitialTime: "3m"})
	require.NoError(t, err)

	_, resp = get(t, h, "/api/v1/challenges")
	var challenges []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &challenges))
	require.Len(t, challenges, 1)
	assert.Equal(t, challenge.ID(), challenges[0]["id"])

	_, resp = get(t, h, "/api/v1/stats")
	var stats broker.Stats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, broker.Stats{Challenges: 1}, stats)
}

func TestGetGame(t *testing.T) {
	f := newFixture(t)
	h := f.router(f.lb)

	doc, err := store.Encode(game.Details{ID: "g1", History: []game.Move{}})
	require.NoError(t, err)
	require.NoError(t, f.db.Collection(store.Games).Save(context.Background(), "g1", doc))

	code, resp := get(t, h, "/api/v1/games/g1")
	require.Equal(t, http.StatusOK, code)
	var d game.Details
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, "g1", d.ID)

	code, resp = get(t, h, "/api/v1/games/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.ErrGameNotFound.Error(), resp.Error)
}

func TestGetPlayer(t *testing.T) {
	f := newFixture(t)
	h := f.router(f.lb)

	profile := domain.Profile{Username: "alice", Password: "hash", Glicko2: domain.DefaultGlicko2(), GamesPlayedAsWhite: 3}
	doc, err := store.Encode(profile)
	require.NoError(t, err)
	require.NoError(t, f.db.Collection(store.Users).Insert(context.Background(), "alice", doc))

	code, resp := get(t, h, "/api/v1/players/alice")
	require.Equal(t, http.StatusOK, code)
	var public map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &public))
	assert.Equal(t, "alice", public["username"])
	assert.Equal(t, float64(3), public["games_played_as_white"])
	assert.NotContains(t, public, "password")

	code, _ = get(t, h, "/api/v1/players/bob")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLeaderboardRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.router(f.lb)
	require.NoError(t, f.lb.ApplyRatingUpdates(context.Background(), []domain.RatingUpdate{
		{Username: "alice", Rating: 1620},
		{Username: "bob", Rating: 1480},
		{Username: "carol", Rating: 1710},
	}))

	code, resp := get(t, h, "/api/v1/leaderboard/top?limit=2")
	require.Equal(t, http.StatusOK, code)
	var top struct {
		Entries []domain.LeaderboardEntry `json:"entries"`
		Total   int64                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &top))
	assert.Equal(t, int64(3), top.Total)
	require.Len(t, top.Entries, 2)
	assert.Equal(t, "carol", top.Entries[0].Username)

	code, resp = get(t, h, "/api/v1/leaderboard/player/bob")
	require.Equal(t, http.StatusOK, code)
	var entry domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entry))
	assert.Equal(t, int64(3), entry.Rank)

	code, resp = get(t, h, "/api/v1/leaderboard/around/alice?range=1")
	require.Equal(t, http.StatusOK, code)
	var around []domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(resp.Data, &around))
	assert.Len(t, around, 3)

	code, _ = get(t, h, "/api/v1/leaderboard/player/nobody")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLeaderboardDisabled(t *testing.T) {
	f := newFixture(t)
	h := f.router(nil)

	code, resp := get(t, h, "/api/v1/leaderboard/top")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Success)
}
