package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sales-arena/internal/domain"
)

// RankingService keeps points, streaks and the global rank order.
type RankingService struct{}

// Award credits each achievement to its attendant: points are added,
// the current streak grows by one and the best streak follows it.
func (RankingService) Award(ctx context.Context, tx Tx, achievements []domain.Achievement, at time.Time) error {
	for _, a := range achievements {
		if _, err := tx.AddPoints(ctx, a.AttendantID, a.PointsAwarded, at); err != nil {
			return fmt.Errorf("awarding points to %s: %w", a.AttendantID, err)
		}
	}
	return nil
}

// Rerank recomputes every rank from a full sorted snapshot and writes back
// only the entries whose rank moved. The caller holds tx.LockLeaderboard.
func (RankingService) Rerank(ctx context.Context, tx Tx) ([]domain.LeaderboardEntry, error) {
	entries, err := tx.LeaderboardForUpdate(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}

	previous := make(map[string]int64, len(entries))
	for _, e := range entries {
		previous[e.AttendantID] = e.Rank
	}

	ranked := domain.AssignRanks(entries)

	var moved []domain.LeaderboardEntry
	for _, e := range ranked {
		if previous[e.AttendantID] != e.Rank {
			moved = append(moved, e)
		}
	}
	if len(moved) > 0 {
		if err := tx.SetRanks(ctx, moved); err != nil {
			return nil, fmt.Errorf("writing ranks: %w", err)
		}
	}
	return ranked, nil
}
