package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
)

// LeaderboardService provides the Redis-backed rating leaderboard
type LeaderboardService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient connects to Redis and checks the connection
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewLeaderboardService creates a leaderboard on an existing client
func NewLeaderboardService(client *redis.Client, logger *zap.Logger) *LeaderboardService {
	return &LeaderboardService{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *LeaderboardService) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *LeaderboardService) Client() *redis.Client {
	return s.client
}

// leaderboardKey returns the Redis key for a leaderboard's sorted set
func (s *LeaderboardService) leaderboardKey(leaderboardID string) string {
	return fmt.Sprintf("leaderboard:%s:realtime", leaderboardID)
}

func (s *LeaderboardService) ratingKey() string {
	return s.leaderboardKey(domain.RatingLeaderboardID)
}

// SetRating sets a player's rating in the leaderboard
func (s *LeaderboardService) SetRating(ctx context.Context, username string, rating float64) error {
	err := s.client.ZAdd(ctx, s.ratingKey(), redis.Z{
		Score:  rating,
		Member: username,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting rating: %w", err)
	}
	return nil
}

// RemovePlayer removes a player from the leaderboard
func (s *LeaderboardService) RemovePlayer(ctx context.Context, username string) error {
	if err := s.client.ZRem(ctx, s.ratingKey(), username).Err(); err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

// GetTopN returns the N highest rated players
func (s *LeaderboardService) GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, s.ratingKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	return toEntries(results, 0), nil
}

// GetPlayerRank returns a player's rank and rating
func (s *LeaderboardService) GetPlayerRank(ctx context.Context, username string) (*domain.LeaderboardEntry, error) {
	key := s.ratingKey()

	// Use pipeline to get both rank and score
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, username)
	scoreCmd := pipe.ZScore(ctx, key, username)
	_, err := pipe.Exec(ctx)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.LeaderboardEntry{
		Rank:     rank + 1, // Convert 0-indexed to 1-indexed
		Username: username,
		Rating:   score,
	}, nil
}

// GetAroundPlayer returns players around a specific player's rank
func (s *LeaderboardService) GetAroundPlayer(ctx context.Context, username string, count int) ([]domain.LeaderboardEntry, error) {
	playerEntry, err := s.GetPlayerRank(ctx, username)
	if err != nil {
		return nil, err
	}

	// Ranks are 1-indexed, ranges are not
	start := playerEntry.Rank - int64(count) - 1
	if start < 0 {
		start = 0
	}
	end := playerEntry.Rank + int64(count) - 1

	return s.GetRange(ctx, int(start), int(end))
}

// GetRange returns players within a specific rank range (0-indexed)
func (s *LeaderboardService) GetRange(ctx context.Context, start, end int) ([]domain.LeaderboardEntry, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, s.ratingKey(), int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	return toEntries(results, start), nil
}

// GetCount returns the number of rated players
func (s *LeaderboardService) GetCount(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, s.ratingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// BatchSetRatings sets multiple ratings using pipelining
func (s *LeaderboardService) BatchSetRatings(ctx context.Context, ratings map[string]float64) error {
	if len(ratings) == 0 {
		return nil
	}
	key := s.ratingKey()
	pipe := s.client.Pipeline()
	for username, rating := range ratings {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  rating,
			Member: username,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting ratings: %w", err)
	}
	return nil
}

// ReplaceAll swaps the leaderboard for exactly the given ratings
func (s *LeaderboardService) ReplaceAll(ctx context.Context, ratings map[string]float64) error {
	key := s.ratingKey()
	tmp := key + ":rebuild"

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tmp)
	for username, rating := range ratings {
		pipe.ZAdd(ctx, tmp, redis.Z{Score: rating, Member: username})
	}
	if len(ratings) == 0 {
		pipe.Del(ctx, key)
	} else {
		pipe.Rename(ctx, tmp, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing leaderboard: %w", err)
	}
	return nil
}

func toEntries(results []redis.Z, offset int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:     int64(offset + i + 1),
			Username: result.Member.(string),
			Rating:   result.Score,
		}
	}
	return entries
}
