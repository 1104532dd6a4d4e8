package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chess-broker/internal/domain"
)

// DirectNotifier applies rating updates straight to the leaderboard when no
// Kafka cluster sits between the broker and the leaderboard.
type DirectNotifier struct {
	leaderboard *LeaderboardService
	timeout     time.Duration
	logger      *zap.Logger
}

// NewDirectNotifier creates a notifier bound to a leaderboard service
func NewDirectNotifier(lb *LeaderboardService, timeout time.Duration, logger *zap.Logger) *DirectNotifier {
	return &DirectNotifier{leaderboard: lb, timeout: timeout, logger: logger}
}

// RatingUpdated applies the update in the background
func (n *DirectNotifier) RatingUpdated(update domain.RatingUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.leaderboard.ApplyRatingUpdate(ctx, update); err != nil {
			n.logger.Error("failed to apply rating update",
				zap.String("username", update.Username),
				zap.Error(err),
			)
		}
	}()
}

// GameFinished logs the summary; finished games are archived by the broker
func (n *DirectNotifier) GameFinished(summary domain.GameSummary) {
	n.logger.Info("game finished",
		zap.String("game_id", summary.GameID),
		zap.String("white", summary.White),
		zap.String("black", summary.Black),
		zap.String("result", summary.Result),
		zap.String("method", summary.Method),
	)
}
