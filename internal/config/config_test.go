package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Broker.SeekTimeout)
	assert.Equal(t, 6, cfg.Broker.RandomGames)
	assert.Equal(t, 10, cfg.Broker.GamesPerRatingPeriod)
	assert.Equal(t, 5*time.Minute, cfg.Broker.InactiveGameExpiry)
	assert.Equal(t, 24*time.Hour, cfg.Broker.MaxIdleAnonymous)
	assert.Equal(t, 720*time.Hour, cfg.Broker.MaxIdleLoggedIn)
	assert.Equal(t, "rating-updates", cfg.Kafka.RatingTopic)
	assert.Equal(t, "game-results", cfg.Kafka.GameTopic)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CHESS_STORE", "redis")
	t.Setenv("CHESS_REDIS_ADDR", "cache:6380")

	cfg, err := Load(writeConfig(t, `
store:
  backend: ${CHESS_STORE}
  operation_timeout: 2s
redis:
  addr: ${CHESS_REDIS_ADDR}
broker:
  seek_timeout: 90s
  games_per_rating_period: 3
`))
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Store.OperationTimeout)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Second, cfg.Broker.SeekTimeout)
	assert.Equal(t, 3, cfg.Broker.GamesPerRatingPeriod)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "store:\n  backend: mongo\n"))
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, "postgres://:@localhost:5432/?sslmode=disable", cfg.Postgres.ConnectionString())
}
