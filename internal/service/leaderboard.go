package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/redis"
)

// RatingHistory records closed rating periods
type RatingHistory interface {
	BatchRecordRatingUpdates(ctx context.Context, updates []domain.RatingUpdate) error
}

// LeaderboardService provides business logic for the rating leaderboard
type LeaderboardService struct {
	redis   *redis.LeaderboardService
	history RatingHistory
	config  *config.LeaderboardConfig
	logger  *zap.Logger
}

// NewLeaderboardService creates a new leaderboard service. history may be
// nil when no database keeps rating events.
func NewLeaderboardService(
	redis *redis.LeaderboardService,
	history RatingHistory,
	cfg *config.LeaderboardConfig,
	logger *zap.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		redis:   redis,
		history: history,
		config:  cfg,
		logger:  logger,
	}
}

// ApplyRatingUpdate moves one player to their new rating
func (s *LeaderboardService) ApplyRatingUpdate(ctx context.Context, update domain.RatingUpdate) error {
	return s.ApplyRatingUpdates(ctx, []domain.RatingUpdate{update})
}

// ApplyRatingUpdates moves several players to their new ratings. A later
// update for the same player wins.
func (s *LeaderboardService) ApplyRatingUpdates(ctx context.Context, updates []domain.RatingUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ratings := make(map[string]float64, len(updates))
	for _, u := range updates {
		ratings[u.Username] = u.Rating
	}
	if err := s.redis.BatchSetRatings(ctx, ratings); err != nil {
		return fmt.Errorf("setting ratings in redis: %w", err)
	}

	if s.history != nil {
		if err := s.history.BatchRecordRatingUpdates(ctx, updates); err != nil {
			// Don't fail the update if history recording fails
			s.logger.Warn("failed to record rating history", zap.Error(err), zap.Int("count", len(updates)))
		}
	}
	return nil
}

// GetTopN returns the N highest rated players
func (s *LeaderboardService) GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	// Validate limit
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	entries, err := s.redis.GetTopN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("getting top n from redis: %w", err)
	}
	return entries, nil
}

// GetPlayerRank returns a player's rank and rating
func (s *LeaderboardService) GetPlayerRank(ctx context.Context, username string) (*domain.LeaderboardEntry, error) {
	return s.redis.GetPlayerRank(ctx, username)
}

// GetAroundPlayer returns players around a specific player's rank
func (s *LeaderboardService) GetAroundPlayer(ctx context.Context, username string, count int) ([]domain.LeaderboardEntry, error) {
	if count <= 0 {
		count = 5
	}
	if count > 50 {
		count = 50
	}
	return s.redis.GetAroundPlayer(ctx, username, count)
}

// GetCount returns the number of rated players
func (s *LeaderboardService) GetCount(ctx context.Context) (int64, error) {
	return s.redis.GetCount(ctx)
}
