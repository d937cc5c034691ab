package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/redis"
)

// LeaderboardSource reads the committed ranking
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// LeaderboardProjection is a read model that can be rebuilt from the source
type LeaderboardProjection interface {
	Rebuild(ctx context.Context, load func(ctx context.Context) ([]domain.LeaderboardEntry, error)) error
}

// SyncWorker periodically rebuilds the Redis leaderboard projection from
// the ledger so it recovers from missed after-commit publishes.
type SyncWorker struct {
	*runner
	projection LeaderboardProjection
	source     LeaderboardSource
	logger     *slog.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(projection LeaderboardProjection, source LeaderboardSource, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	w := &SyncWorker{
		projection: projection,
		source:     source,
		logger:     logger,
	}
	w.runner = newRunner("sync", cfg.Interval, w.RunOnce, logger)
	return w
}

// RunOnce rebuilds the projection once
func (w *SyncWorker) RunOnce(ctx context.Context) {
	if err := w.SyncFromDatabase(ctx); err != nil {
		w.logger.Error("failed to rebuild leaderboard projection", "error", err)
	}
}

// SyncFromDatabase replaces the projection with the ledger's current
// ranking. A rebuild that loses to a concurrent publish is not an error.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context) error {
	start := time.Now()
	var count int
	err := w.projection.Rebuild(ctx, func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
		entries, err := w.source.Leaderboard(ctx, 0)
		if entries == nil && err == nil {
			entries = []domain.LeaderboardEntry{}
		}
		count = len(entries)
		return entries, err
	})
	if errors.Is(err, redis.ErrStale) {
		w.logger.Debug("leaderboard rebuild superseded by a newer publish")
		return nil
	}
	if err != nil {
		return err
	}

	w.logger.Info("leaderboard projection rebuilt",
		"entries", count,
		"duration", time.Since(start),
	)
	return nil
}
