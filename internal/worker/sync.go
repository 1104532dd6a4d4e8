package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/store"
)

// RatingSource lists the current rating of every registered user
type RatingSource interface {
	GetAllRatings(ctx context.Context) (map[string]float64, error)
}

// Leaderboard is the rebuildable side of the sync
type Leaderboard interface {
	ReplaceAll(ctx context.Context, ratings map[string]float64) error
}

// CollectionRatings reads ratings out of the users collection of any store
// backend
type CollectionRatings struct {
	Users store.Collection
}

// GetAllRatings decodes the rating of every stored profile
func (c CollectionRatings) GetAllRatings(ctx context.Context) (map[string]float64, error) {
	ratings := make(map[string]float64)
	err := c.Users.Each(ctx, func(key string, doc json.RawMessage) error {
		var profile struct {
			Glicko2 *domain.Glicko2 `json:"glicko2"`
		}
		if err := json.Unmarshal(doc, &profile); err != nil {
			return fmt.Errorf("decoding user %s: %w", key, err)
		}
		if profile.Glicko2 != nil {
			ratings[key] = profile.Glicko2.Rating
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ratings, nil
}

// SyncWorker periodically rebuilds the leaderboard from the user store so
// that missed or reordered rating updates cannot drift it permanently
type SyncWorker struct {
	leaderboard Leaderboard
	source      RatingSource
	config      *config.SyncConfig
	logger      *zap.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	mu          sync.Mutex
	running     bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	leaderboard Leaderboard,
	source RatingSource,
	cfg *config.SyncConfig,
	logger *zap.Logger,
) *SyncWorker {
	return &SyncWorker{
		leaderboard: leaderboard,
		source:      source,
		config:      cfg,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", zap.Duration("interval", w.config.Interval))

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.Rebuild(ctx); err != nil {
				w.logger.Error("failed to rebuild leaderboard", zap.Error(err))
			}
		}
	}
}

// Rebuild replaces the leaderboard with the ratings held by the store
func (w *SyncWorker) Rebuild(ctx context.Context) error {
	w.logger.Debug("starting sync cycle")
	startTime := time.Now()

	ratings, err := w.source.GetAllRatings(ctx)
	if err != nil {
		return fmt.Errorf("reading ratings: %w", err)
	}
	if err := w.leaderboard.ReplaceAll(ctx, ratings); err != nil {
		return err
	}

	w.logger.Info("sync cycle completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("players", len(ratings)),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
